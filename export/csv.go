// Package export writes snapshots out as CSV and ships them to a remote
// host.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"rankwatch/collector"
	"rankwatch/storage"
)

var (
	psiHeader = []string{"url", "status", "score", "lcp", "cls", "raw"}
	geoHeader = []string{"query", "status", "result"}
)

// WritePSICSV writes one line per PSI row.
func WritePSICSV(w io.Writer, rows []collector.PsiRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(psiHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, r := range rows {
		raw, err := blobCell(r.Raw)
		if err != nil {
			return fmt.Errorf("psi row %s: %w", r.URL, err)
		}
		score := ""
		if r.Score != nil {
			score = strconv.FormatFloat(*r.Score, 'f', -1, 64)
		}
		if err := cw.Write([]string{r.URL, string(r.Status), score, deref(r.LCP), deref(r.CLS), raw}); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGeoCSV writes one line per GEO row.
func WriteGeoCSV(w io.Writer, rows []collector.GeoRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(geoHeader); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, r := range rows {
		result, err := blobCell(r.Result)
		if err != nil {
			return fmt.Errorf("geo row %q: %w", r.Query, err)
		}
		if err := cw.Write([]string{r.Query, string(r.Status), result}); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFiles writes snapshot-<id>-psi.csv and snapshot-<id>-geo.csv into
// dir and returns their paths.
func WriteFiles(dir string, snap *storage.SnapshotDetail) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	psi := make([]collector.PsiRow, len(snap.PsiResults))
	for i, r := range snap.PsiResults {
		psi[i] = r.PsiRow
	}
	geo := make([]collector.GeoRow, len(snap.GeoResults))
	for i, r := range snap.GeoResults {
		geo[i] = r.GeoRow
	}

	psiPath := filepath.Join(dir, fmt.Sprintf("snapshot-%d-psi.csv", snap.ID))
	if err := writeFile(psiPath, func(w io.Writer) error { return WritePSICSV(w, psi) }); err != nil {
		return nil, err
	}
	geoPath := filepath.Join(dir, fmt.Sprintf("snapshot-%d-geo.csv", snap.ID))
	if err := writeFile(geoPath, func(w io.Writer) error { return WriteGeoCSV(w, geo) }); err != nil {
		return nil, err
	}
	return []string{psiPath, geoPath}, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// blobCell renders text blobs verbatim and JSON blobs compactly.
func blobCell(b collector.Blob) (string, error) {
	switch b.Kind {
	case collector.BlobText:
		return b.Text, nil
	case collector.BlobJSON:
		data, err := json.Marshal(b.Value)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return "", nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
