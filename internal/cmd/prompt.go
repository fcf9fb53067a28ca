package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readLine reads one line from r without buffering past the newline, so
// consecutive prompts can share the command's input stream.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return strings.TrimRight(sb.String(), "\r"), nil
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
	}
}

// confirm asks a yes/no question. An empty answer selects def; end of
// input declines.
func confirm(cmd *cobra.Command, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ", question, hint)
		answer, err := readLine(cmd.InOrStdin())
		if err != nil {
			if errors.Is(err, io.EOF) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				return false, nil
			}
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Please enter Y or N")
	}
}

// ask prompts for a free-form value. When choices is non-empty the answer
// must be one of them. An empty answer selects def.
func ask(cmd *cobra.Command, question, def string, choices []string) (string, error) {
	label := question
	if len(choices) > 0 {
		label += " [" + strings.Join(choices, "/") + "]"
	}
	if def != "" {
		label += " (" + def + ")"
	}
	for {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
		answer, err := readLine(cmd.InOrStdin())
		if err != nil {
			if errors.Is(err, io.EOF) && def != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				return def, nil
			}
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			answer = def
		}
		if answer == "" {
			continue
		}
		if len(choices) > 0 && !slices.Contains(choices, answer) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Please select one of: %s\n", strings.Join(choices, ", "))
			continue
		}
		return answer, nil
	}
}

// askSecret reads a secret without echo when stdin is a terminal, and a
// plain line otherwise (pipes, tests).
func askSecret(cmd *cobra.Command, question string) (string, error) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ", question)
	if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := readLine(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
