package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-morse/internal/config"
	_ "modernc.org/sqlite"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Conversion is one recorded text-to-Morse run.
type Conversion struct {
	ID         string
	SessionID  string
	Source     string
	Text       string
	Morse      string
	Units      int
	SampleRate int
	Frequency  float64
	Status     string
	Error      string
	CreatedAt  time.Time
}

// Store wraps a SQLite-backed conversion history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    source TEXT,
    text TEXT NOT NULL,
    morse TEXT,
    units INTEGER NOT NULL DEFAULT 0,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    frequency REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversions_created ON conversions(created_at);
CREATE INDEX IF NOT EXISTS idx_conversions_session ON conversions(session_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// RecordConversion writes c and returns it with ID and CreatedAt filled in.
func (s *Store) RecordConversion(ctx context.Context, c Conversion) (Conversion, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.Status == "" {
		c.Status = StatusOK
	}
	if s.disabled() {
		return c, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions(id, session_id, source, text, morse, units, sample_rate, frequency, status, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Source, c.Text, c.Morse, c.Units, c.SampleRate, c.Frequency, c.Status, c.Error, c.CreatedAt.UnixNano())
	if err != nil {
		return c, fmt.Errorf("insert conversion: %w", err)
	}
	return c, nil
}

// ListConversions returns up to limit conversions, newest first.
func (s *Store) ListConversions(ctx context.Context, limit int) ([]Conversion, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, source, text, morse, units, sample_rate, frequency, status, error, created_at
		 FROM conversions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversion
	for rows.Next() {
		var c Conversion
		var session, source, morse, errText sql.NullString
		var created int64
		if err := rows.Scan(&c.ID, &session, &source, &c.Text, &morse, &c.Units, &c.SampleRate, &c.Frequency, &c.Status, &errText, &created); err != nil {
			return nil, err
		}
		c.SessionID = session.String
		c.Source = source.String
		c.Morse = morse.String
		c.Error = errText.String
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune applies configured retention. Open calls it once; RunRetention
// repeats it.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM conversions WHERE created_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxConversions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM conversions WHERE id IN (
			SELECT id FROM conversions ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxConversions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunRetention prunes every interval until ctx is done. A non-positive
// interval or a disabled store returns immediately.
func (s *Store) RunRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.disabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Store) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
