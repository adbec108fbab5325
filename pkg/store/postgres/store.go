// Package postgres archives finalized transcript entries. The session
// core never touches it; the CLI wires it in when an archive DSN is
// configured.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxa-ai/voxa-live/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists transcript entries keyed by session.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, runs pending migrations, and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate transcript schema: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to archive database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// SaveEntries appends the entries to the archive in order.
func (s *Store) SaveEntries(ctx context.Context, sessionID string, entries []types.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(
			`INSERT INTO transcript_entries (session_id, role, text, spoken_at) VALUES ($1, $2, $3, $4)`,
			sessionID, string(entry.Role), entry.Text, entry.Timestamp,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// History returns the archived entries for a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, text, spoken_at FROM transcript_entries WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.TranscriptEntry
	for rows.Next() {
		var role, text string
		var spokenAt time.Time
		if err := rows.Scan(&role, &text, &spokenAt); err != nil {
			return nil, err
		}
		entries = append(entries, types.TranscriptEntry{
			Role:      types.Role(role),
			Text:      text,
			Timestamp: spokenAt,
		})
	}
	return entries, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
