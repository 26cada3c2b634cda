package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GSCHeader is the column order NormalizeGSC writes.
var GSCHeader = []string{"query", "clicks", "impressions", "ctr", "position"}

// gscAliases maps lowercased Search Console export headers onto GSCHeader.
var gscAliases = map[string]string{
	"query":              "query",
	"search query":       "query",
	"top queries":        "query",
	"clicks":             "clicks",
	"impressions":        "impressions",
	"ctr":                "ctr",
	"click-through rate": "ctr",
	"position":           "position",
	"avg. position":      "position",
	"average position":   "position",
}

// NormalizeGSC rewrites a Google Search Console performance export into
// the fixed GSCHeader layout. Unknown columns are dropped; a row whose
// query column is blank takes its first non-empty cell as the query.
func NormalizeGSC(r io.Reader, w io.Writer) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return errors.New("gsc export is empty")
	}
	if err != nil {
		return fmt.Errorf("read gsc header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	slots := make([]int, len(header))
	for i, h := range header {
		slots[i] = -1
		if name, ok := gscAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			slots[i] = columnIndex(name)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(GSCHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read gsc row %d: %w", line, err)
		}
		if err := cw.Write(normalizeGSCRow(rec, slots)); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func normalizeGSCRow(rec []string, slots []int) []string {
	out := make([]string, len(GSCHeader))
	for i, v := range rec {
		if i < len(slots) && slots[i] >= 0 {
			out[slots[i]] = v
		}
	}
	if out[0] == "" {
		for _, v := range rec {
			if v = strings.TrimSpace(v); v != "" {
				out[0] = v
				break
			}
		}
	}
	return out
}

func columnIndex(name string) int {
	for i, h := range GSCHeader {
		if h == name {
			return i
		}
	}
	return -1
}

// NormalizeGSCFile runs NormalizeGSC from inPath to outPath, creating the
// output directory when needed.
func NormalizeGSCFile(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open gsc export: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return writeFile(outPath, func(w io.Writer) error {
		return NormalizeGSC(in, w)
	})
}
