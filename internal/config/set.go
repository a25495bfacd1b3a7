package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set writes a single dotted key to the settings file at path, creating
// the file and its parent directory if needed. Strobe's settings are
// file-only (there is no SQLite-backed settings table to fall back to),
// so every key goes through this same path.
func Set(path, key, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	content := ""
	if existing, err := os.ReadFile(path); err == nil {
		content = string(existing)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read settings file: %w", err)
	}

	updated, err := upsertYAMLKey(content, key, value)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// upsertYAMLKey updates key in place if present (even commented out),
// otherwise appends it, preserving the rest of the file's lines.
func upsertYAMLKey(content, key, value string) (string, error) {
	newLine := fmt.Sprintf("%s: %s", key, formatValue(value))
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	var result []string
	found := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if keyPattern.MatchString(line) {
			indent := keyPattern.FindStringSubmatch(line)[1]
			result = append(result, indent+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan settings content: %w", err)
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}
	return strings.Join(result, "\n") + "\n", nil
}

// formatValue renders value as a YAML scalar: parsing it first so bools,
// numbers, and strings needing quotes (a value containing ": ", say)
// come out as the type viper will read back, rather than always as a
// bare string.
func formatValue(value string) string {
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	out, err := yaml.Marshal(parsed)
	if err != nil {
		return value
	}
	return strings.TrimSuffix(string(out), "\n")
}
