package common

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set in the environment
// win over file values. Lines without '=' and comment lines are skipped.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return nil
}

// PrintCIResult writes a machine-readable pass/fail line plus detail lines,
// for use by non-interactive tool invocations.
func PrintCIResult(w io.Writer, ok bool, name string, details []string, err error) {
	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s\n", status, name)
	for _, d := range details {
		fmt.Fprintf(w, "  %s\n", d)
	}
	if err != nil {
		fmt.Fprintf(w, "  error: %v\n", err)
	}
}
