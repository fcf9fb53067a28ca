package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adbcli/pkg/auth"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func userToken(t *testing.T, username string, ttl time.Duration) string {
	return signToken(t, jwt.MapClaims{
		"preferred_username": username,
		"name":               "Jane Doe",
		"email":              username + "@example.org",
		"iss":                "https://sso.example.org/realms/adb",
		"exp":                time.Now().Add(ttl).Unix(),
	})
}

func (h *cliHarness) tokenCache() *auth.Cache {
	return auth.NewCache(filepath.Dir(h.path))
}

func TestLogin_WithTokenFlag(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")
	token := userToken(t, "jdoe", time.Hour)

	res := h.run("", "login", "--token", token)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `Authenticated access enabled for context "dev"`)
	assert.Contains(t, res.stdout, "Logged in as jdoe")
	assert.Contains(t, res.stdout, "Token expires")

	assert.False(t, h.context("dev").Auth.Anonymous)
	entry, err := h.tokenCache().Load("dev")
	require.NoError(t, err)
	assert.Equal(t, token, entry.AccessToken)
}

func TestLogin_Prompted(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")
	token := userToken(t, "jdoe", time.Hour)

	res := h.run(token+"\n", "login")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Access token: ")
	assert.Contains(t, res.stdout, "Logged in as jdoe")
}

func TestLogin_InvalidToken(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")

	res := h.run("", "login", "--token", "not-a-jwt")
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "Invalid token")
	assert.True(t, h.context("dev").Auth.Anonymous)

	res = h.run("\n", "login")
	assert.Equal(t, exitUsage, res.code)
}

func TestWhoami(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")

	res := h.run("", "whoami")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Anonymous mode - no token set.\n", res.stdout)

	token := userToken(t, "jdoe", time.Hour)
	require.Equal(t, 0, h.run("", "login", "--token", token).code)

	res = h.run("", "whoami")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Name: Jane Doe")
	assert.Contains(t, res.stdout, "Username: jdoe")
	assert.Contains(t, res.stdout, "Email: jdoe@example.org")
	assert.Contains(t, res.stdout, "Issuer: https://sso.example.org/realms/adb")
	assert.Contains(t, res.stdout, "Token expiration date:")

	res = h.run("", "whoami", "--raw")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, token+"\n", res.stdout)

	res = h.run("", "whoami", "--decoded")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Headers:\n")
	assert.Contains(t, res.stdout, "alg: HS256")
	assert.Contains(t, res.stdout, "Claims:\n")
	assert.Contains(t, res.stdout, "preferred_username: jdoe")
}

func TestWhoami_EnvironmentToken(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")
	require.Equal(t, 0, h.run("", "login", "--token", userToken(t, "jdoe", time.Hour)).code)

	t.Setenv(auth.TokenEnvVar, userToken(t, "robot", time.Hour))
	res := h.run("", "whoami")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Username: robot")
}

func TestWhoami_ExpiredToken(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")
	require.Equal(t, 0, h.run("", "login", "--token", userToken(t, "jdoe", -time.Hour)).code)

	res := h.run("", "whoami")
	assert.NotEqual(t, 0, res.code)
	assert.Contains(t, res.stderr, "Unable to get token")
}

func TestLogout(t *testing.T) {
	h := newCLI(t)
	h.addContext("dev", "https://adb.example.org")
	require.Equal(t, 0, h.run("", "login", "--token", userToken(t, "jdoe", time.Hour)).code)

	res := h.run("", "logout")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Anonymous access enabled\n", res.stdout)
	assert.True(t, h.context("dev").Auth.Anonymous)
	_, err := os.Stat(h.tokenCache().Path("dev"))
	require.NoError(t, err, "plain logout keeps cached credentials")

	res = h.run("", "logout", "--purge")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Removing cached credentials")
	_, err = os.Stat(h.tokenCache().Path("dev"))
	assert.True(t, os.IsNotExist(err))
}

func TestVersion(t *testing.T) {
	h := newCLI(t)

	res := h.run("", "version")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "adb version \"dev\"\n", res.stdout)

	res = h.run("", "version", "--extended")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "commit: HEAD")
	assert.Contains(t, res.stdout, "go: go")
}
