package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names an output format.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// DefaultFormat is used when no format is configured.
const DefaultFormat = FormatYAML

// Formatter renders one result document.
type Formatter interface {
	Format(w io.Writer, v any) error
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(w io.Writer, v any) error

// Format calls f.
func (f FormatterFunc) Format(w io.Writer, v any) error {
	return f(w, v)
}

var formatters = map[Format]Formatter{
	FormatYAML:  FormatterFunc(formatYAML),
	FormatJSON:  FormatterFunc(formatJSON),
	FormatJSONL: FormatterFunc(formatJSONL),
}

// Lookup returns the formatter registered under name. Empty selects the
// default format.
func Lookup(name string) (Formatter, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "" {
		f = DefaultFormat
	}
	formatter, ok := formatters[f]
	if !ok {
		return nil, fmt.Errorf("%w %q (expected one of %s)", ErrUnknownFormat, name, strings.Join(Names(), ", "))
	}
	return formatter, nil
}

// Names lists registered format names, sorted.
func Names() []string {
	names := make([]string, 0, len(formatters))
	for f := range formatters {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

// formatYAML writes v as a YAML document followed by a "---" separator, so
// that consecutive results form a multi-document stream.
func formatYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	if err := writeAll(w, []byte("---\n")); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func formatJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	if err := writeAll(w, append(b, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func formatJSONL(w io.Writer, v any) error {
	return NewJSONLWriter(w, "").WriteDocument(context.Background(), v)
}
