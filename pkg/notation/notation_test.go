package notation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse_Notations(t *testing.T) {
	id, err := Parse(Args{What: "proj1:file.txt@3"})
	require.NoError(t, err)
	assert.Equal(t, Identifier{ProjectID: "proj1", Version: "3", Path: "file.txt"}, id)

	id, err = Parse(Args{What: "proj1@3"})
	require.NoError(t, err)
	assert.Equal(t, Identifier{ProjectID: "proj1", Version: "3"}, id)
	assert.False(t, id.IsArtifact())
}

func TestParse_BareProjectIsFloatingLatest(t *testing.T) {
	id, err := Parse(Args{What: "proj1"})
	require.NoError(t, err)
	assert.Equal(t, "proj1", id.ProjectID)
	assert.Equal(t, LatestVersion, id.Version)
	assert.Empty(t, id.Path)
	assert.True(t, id.Floating)
	assert.True(t, id.Defaulted)
	assert.Empty(t, id.ExplicitVersion())
	assert.Equal(t, "proj1", id.String())

	explicit, err := Parse(Args{What: "proj1@latest"})
	require.NoError(t, err)
	assert.True(t, explicit.Floating)
	assert.False(t, explicit.Defaulted)
	assert.Equal(t, LatestVersion, explicit.ExplicitVersion())
}

func TestParse_Options(t *testing.T) {
	id, err := Parse(Args{ProjectID: "P1", Version: "2"})
	require.NoError(t, err)
	assert.Equal(t, Identifier{ProjectID: "P1", Version: "2"}, id)

	id, err = Parse(Args{ProjectID: "P1"})
	require.NoError(t, err)
	assert.True(t, id.Defaulted)

	id, err = Parse(Args{ID: "P1:dir/a.csv@4"})
	require.NoError(t, err)
	assert.Equal(t, "dir/a.csv", id.Path)
	assert.Equal(t, "4", id.Version)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		args Args
		want error
	}{
		{"what and project", Args{What: "P1", ProjectID: "P2"}, ErrConflictingArguments},
		{"what and id", Args{What: "P1", ID: "P1:a@1"}, ErrConflictingArguments},
		{"id and version", Args{ID: "P1:a@1", Version: "1"}, ErrConflictingArguments},
		{"version alone", Args{Version: "1"}, ErrConflictingArguments},
		{"two at signs", Args{What: "P1@1@2"}, ErrMalformedID},
		{"id not full", Args{ID: "P1@1"}, ErrMalformedID},
		{"missing path", Args{What: "P1:@1"}, ErrMalformedID},
		{"missing version", Args{What: "P1:file.txt"}, ErrMalformedID},
		{"colon in project option", Args{ProjectID: "P:1"}, ErrReservedSeparator},
		{"empty version", Args{What: "P1@"}, ErrEmptyVersion},
		{"quoted empty version", Args{ProjectID: "P1", Version: `""`}, ErrEmptyVersion},
		{"single quoted version", Args{ProjectID: "P1", Version: "''"}, ErrEmptyVersion},
		{"nothing", Args{}, ErrMissingArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.args)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		want := Identifier{
			ProjectID: rapid.StringMatching(`[A-Za-z0-9_-]{1,12}`).Draw(t, "project"),
			Path:      rapid.StringMatching(`[A-Za-z0-9_./:@-]{0,20}[A-Za-z0-9_.-]`).Draw(t, "path"),
			Version:   rapid.StringMatching(`[A-Za-z0-9_.-]{1,8}`).Draw(t, "version"),
		}
		want.Floating = want.Version == LatestVersion

		got, err := UnpackID(PackID(want))
		if err != nil {
			t.Fatalf("unpack %q: %v", PackID(want), err)
		}
		if got != want {
			t.Fatalf("round trip: got %+v, want %+v", got, want)
		}

		parsed, err := Parse(Args{What: PackID(want)})
		if err != nil || parsed != want {
			t.Fatalf("parse %q: %+v, %v", PackID(want), parsed, err)
		}
	})
}
