package collector

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
)

// BlobKind says which variant a Blob holds.
type BlobKind uint8

const (
	BlobNull BlobKind = iota
	BlobJSON          // structured value: object, array, number or bool
	BlobText          // opaque string, e.g. an error description
)

// Blob is a JSON-valued column (psi raw, geo result).
type Blob struct {
	Kind  BlobKind
	Value any    // set when Kind == BlobJSON
	Text  string // set when Kind == BlobText
}

// NullBlob is the absent value.
func NullBlob() Blob { return Blob{} }

// TextBlob holds s as an opaque string.
func TextBlob(s string) Blob { return Blob{Kind: BlobText, Text: s} }

// JSONBlob holds a structured value. A nil v yields NullBlob and a string
// yields TextBlob, so each value has exactly one representation.
func JSONBlob(v any) Blob {
	switch t := v.(type) {
	case nil:
		return NullBlob()
	case string:
		return TextBlob(t)
	}
	return Blob{Kind: BlobJSON, Value: v}
}

// IsNull reports whether b holds nothing.
func (b Blob) IsNull() bool { return b.Kind == BlobNull }

// Encode renders b as column text. Text is stored as a JSON string literal.
func (b Blob) Encode() (sql.NullString, error) {
	var (
		raw []byte
		err error
	)
	switch b.Kind {
	case BlobNull:
		return sql.NullString{}, nil
	case BlobText:
		raw, err = json.Marshal(b.Text)
	case BlobJSON:
		raw, err = json.Marshal(b.Value)
	default:
		return sql.NullString{}, fmt.Errorf("unknown blob kind %d", b.Kind)
	}
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode blob: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// DecodeBlob is the inverse of Encode. Column text that is not JSON (rows
// written as plain strings) comes back as TextBlob of that text.
func DecodeBlob(col sql.NullString) Blob {
	if !col.Valid {
		return NullBlob()
	}
	var v any
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return TextBlob(col.String)
	}
	return JSONBlob(v)
}

// MarshalJSON renders the held value directly.
func (b Blob) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BlobText:
		return json.Marshal(b.Text)
	case BlobJSON:
		return json.Marshal(b.Value)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts any JSON value.
func (b *Blob) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = NullBlob()
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = JSONBlob(v)
	return nil
}
