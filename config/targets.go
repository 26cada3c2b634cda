package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Targets is what one collection run measures.
type Targets struct {
	URLs     []string `yaml:"urls"`
	Queries  []string `yaml:"queries"`
	Site     string   `yaml:"site"`
	Strategy string   `yaml:"strategy"`
	Notes    string   `yaml:"notes"`
}

// LoadTargets reads a targets file. YAML files carry the full Targets
// document; anything else is treated as a list of URLs, one per line.
func LoadTargets(path string) (*Targets, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read targets: %w", err)
		}
		var t Targets
		if err := yaml.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("parse targets %s: %w", path, err)
		}
		t.URLs = compact(t.URLs)
		t.Queries = compact(t.Queries)
		if t.Strategy != "" && !ValidStrategy(t.Strategy) {
			return nil, fmt.Errorf("targets %s: unknown strategy %q", path, t.Strategy)
		}
		return &t, nil
	default:
		urls, err := ReadLines(path)
		if err != nil {
			return nil, err
		}
		return &Targets{URLs: urls}, nil
	}
}

// ReadLines returns the non-blank, trimmed lines of a file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return lines, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
