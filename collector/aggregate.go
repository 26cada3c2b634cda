package collector

import "math"

// Aggregate merges the PSI and GEO outputs of a run into the row shapes the
// store persists. Input order is preserved and every optional field is
// either a valid value or nil, whichever path produced the row.
func Aggregate(psi []PsiRow, geo []GeoRow) Batch {
	out := Batch{
		PSI: make([]PsiRow, len(psi)),
		Geo: make([]GeoRow, len(geo)),
	}
	for i, r := range psi {
		out.PSI[i] = normalizePSI(r)
	}
	for i, r := range geo {
		out.Geo[i] = normalizeGeo(r)
	}
	return out
}

func normalizePSI(r PsiRow) PsiRow {
	switch r.Status {
	case StatusOK, StatusError:
	default:
		r.Status = StatusError
	}
	if r.Status == StatusError {
		r.Score, r.LCP, r.CLS = nil, nil, nil
	}
	if r.Score != nil && (math.IsNaN(*r.Score) || *r.Score < 0 || *r.Score > 1) {
		r.Score = nil
	}
	r.LCP = nonEmpty(r.LCP)
	r.CLS = nonEmpty(r.CLS)
	r.Raw = normalizeBlob(r.Raw)
	return r
}

func normalizeGeo(r GeoRow) GeoRow {
	switch r.Status {
	case StatusOK, StatusError, StatusStub:
	default:
		r.Status = StatusError
	}
	r.Result = normalizeBlob(r.Result)
	return r
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func normalizeBlob(b Blob) Blob {
	switch b.Kind {
	case BlobJSON:
		return JSONBlob(b.Value)
	case BlobText:
		return b
	}
	return NullBlob()
}
