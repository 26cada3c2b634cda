package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rankwatch/collector"
)

// TimeLayout is how created_at is stored: UTC, fixed width, trailing Z, so
// that text order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// parseLayout also accepts rows written without fractional seconds.
const parseLayout = "2006-01-02T15:04:05.999999999Z"

// createdAtKey pads legacy second-precision values ("...:05Z") to
// TimeLayout width so that they compare and sort with the rest.
const createdAtKey = `(CASE WHEN length(created_at) = 20 THEN substr(created_at, 1, 19) || '.000000Z' ELSE created_at END)`

const defaultListLimit = 50

// SQLite is the Store backed by a single SQLite file.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time

	// Serialises writers inside this process; other processes are held off
	// by SQLite's immediate transactions and busy timeout.
	writeMu sync.Mutex
}

var _ Store = (*SQLite)(nil)

// Option configures a SQLite store.
type Option func(*SQLite)

// WithClock overrides the clock used to stamp new snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) { s.now = now }
}

// NewSQLite opens (or creates) the SQLite file at dbPath and ensures the
// schema exists. The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger, opts ...Option) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Pragmas go in the DSN so that every pooled connection gets them;
	// foreign_keys in particular is per connection and drives the cascade.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at TEXT NOT NULL,
    server     TEXT,
    notes      TEXT
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);

CREATE TABLE IF NOT EXISTS psi_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    url         TEXT,
    status      TEXT,
    score       REAL,
    lcp         TEXT,
    cls         TEXT,
    raw_json    TEXT
);
CREATE INDEX IF NOT EXISTS idx_psi_results_snapshot ON psi_results(snapshot_id);

CREATE TABLE IF NOT EXISTS geo_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    query       TEXT,
    status      TEXT,
    result_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_geo_results_snapshot ON geo_results(snapshot_id);
`

// InitSchema implements Store.
func (s *SQLite) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create snapshot tables: %w", err)
	}
	s.log.Debug("SQLite schema ready")
	return nil
}

// WriteSnapshot implements Store.
func (s *SQLite) WriteSnapshot(ctx context.Context, server, notes string, psi []PsiRow, geo []GeoRow) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	// No-op after a successful Commit.
	defer func() { _ = tx.Rollback() }()

	createdAt := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (created_at, server, notes) VALUES (?, ?, ?)`,
		createdAt.Format(TimeLayout), server, notes)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	psiStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO psi_results (snapshot_id, url, status, score, lcp, cls, raw_json) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare psi insert: %w", err)
	}
	defer psiStmt.Close()

	for i, r := range psi {
		raw, err := r.Raw.Encode()
		if err != nil {
			return 0, fmt.Errorf("psi row %d (%s): %w", i, r.URL, err)
		}
		if _, err := psiStmt.ExecContext(ctx, id, r.URL, string(r.Status),
			nullFloat(r.Score), nullString(r.LCP), nullString(r.CLS), raw); err != nil {
			return 0, fmt.Errorf("insert psi row %d (%s): %w", i, r.URL, err)
		}
	}

	geoStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geo_results (snapshot_id, query, status, result_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare geo insert: %w", err)
	}
	defer geoStmt.Close()

	for i, r := range geo {
		result, err := r.Result.Encode()
		if err != nil {
			return 0, fmt.Errorf("geo row %d (%s): %w", i, r.Query, err)
		}
		if _, err := geoStmt.ExecContext(ctx, id, r.Query, string(r.Status), result); err != nil {
			return 0, fmt.Errorf("insert geo row %d (%s): %w", i, r.Query, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	s.log.Debug("snapshot persisted",
		zap.Int64("snapshot_id", id),
		zap.Time("created_at", createdAt),
		zap.Int("psi_rows", len(psi)),
		zap.Int("geo_rows", len(geo)),
	)
	return id, nil
}

// ListSnapshots implements Store. A non-positive limit uses the default page size.
func (s *SQLite) ListSnapshots(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.querySnapshots(ctx,
		`SELECT id, created_at, server, notes FROM snapshots ORDER BY `+createdAtKey+` DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

// GetSnapshot implements Store.
func (s *SQLite) GetSnapshot(ctx context.Context, id int64) (*SnapshotDetail, error) {
	snaps, err := s.querySnapshots(ctx,
		`SELECT id, created_at, server, notes FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}

	detail := &SnapshotDetail{
		Snapshot:   snaps[0],
		PsiResults: []PsiResult{},
		GeoResults: []GeoResult{},
	}

	psiRows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot_id, url, status, score, lcp, cls, raw_json FROM psi_results WHERE snapshot_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query psi rows: %w", err)
	}
	defer psiRows.Close()
	for psiRows.Next() {
		var (
			r             PsiResult
			url, status   sql.NullString
			score         sql.NullFloat64
			lcp, cls, raw sql.NullString
		)
		if err := psiRows.Scan(&r.ID, &r.SnapshotID, &url, &status, &score, &lcp, &cls, &raw); err != nil {
			return nil, fmt.Errorf("scan psi row: %w", err)
		}
		r.URL = url.String
		r.Status = collector.Status(status.String)
		if score.Valid {
			f := score.Float64
			r.Score = &f
		}
		r.LCP = stringPtr(lcp)
		r.CLS = stringPtr(cls)
		r.Raw = collector.DecodeBlob(raw)
		detail.PsiResults = append(detail.PsiResults, r)
	}
	if err := psiRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate psi rows: %w", err)
	}

	geoRows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot_id, query, status, result_json FROM geo_results WHERE snapshot_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query geo rows: %w", err)
	}
	defer geoRows.Close()
	for geoRows.Next() {
		var (
			r                     GeoResult
			query, status, result sql.NullString
		)
		if err := geoRows.Scan(&r.ID, &r.SnapshotID, &query, &status, &result); err != nil {
			return nil, fmt.Errorf("scan geo row: %w", err)
		}
		r.Query = query.String
		r.Status = collector.Status(status.String)
		r.Result = collector.DecodeBlob(result)
		detail.GeoResults = append(detail.GeoResults, r)
	}
	if err := geoRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geo rows: %w", err)
	}

	return detail, nil
}

// CountOlderThan implements Store.
func (s *SQLite) CountOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE `+createdAtKey+` < ?`, cutoff.UTC().Format(TimeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count old snapshots: %w", err)
	}
	return n, nil
}

// ListOlderThan implements Store.
func (s *SQLite) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Snapshot, error) {
	return s.querySnapshots(ctx,
		`SELECT id, created_at, server, notes FROM snapshots WHERE `+createdAtKey+` < ? ORDER BY `+createdAtKey+` ASC, id ASC`,
		cutoff.UTC().Format(TimeLayout))
}

// DeleteOlderThan implements Store.
func (s *SQLite) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// psi_results and geo_results go with their snapshot via ON DELETE CASCADE.
	res, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE `+createdAtKey+` < ?`, cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	s.log.Info("old snapshots deleted", zap.Time("cutoff", cutoff.UTC()), zap.Int64("snapshots", n))
	return int(n), nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) querySnapshots(ctx context.Context, query string, args ...any) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var (
			snap          Snapshot
			createdAt     string
			server, notes sql.NullString
		)
		if err := rows.Scan(&snap.ID, &createdAt, &server, &notes); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		ts, err := time.Parse(parseLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: bad created_at %q: %w", snap.ID, createdAt, err)
		}
		snap.CreatedAt = ts.UTC()
		snap.Server = server.String
		snap.Notes = notes.String
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// IsNotFound reports whether err means the snapshot does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
