// Package postgres provides a PostgreSQL-backed implementation of the
// onvoice persistence contracts (transcript segments + translation cache).
//
// Both tables share a single [pgxpool.Pool]. [Migrate] runs automatically on
// construction and is idempotent.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.AppendSegment(ctx, seg)
//	entry, ok, _ := st.LookupTranslation(ctx, key)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mooner92/onvoice/pkg/store"
	"github.com/mooner92/onvoice/pkg/types"
)

// Store implements store.Store on PostgreSQL.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping probes the database connection. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendSegment implements [store.SegmentStore].
func (s *Store) AppendSegment(ctx context.Context, seg types.TranscriptSegment) error {
	const q = `
		INSERT INTO transcript_segments
		    (id, session_id, text, source_language, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		seg.ID,
		seg.SessionID,
		seg.Text,
		seg.SourceLanguage,
		seg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("segment store: append: %w", err)
	}
	return nil
}

// SessionSegments implements [store.SegmentStore]. Segments are returned in
// acceptance order (insertion order, disambiguated by the serial sequence so
// same-timestamp segments keep their relative order).
func (s *Store) SessionSegments(ctx context.Context, sessionID string) ([]types.TranscriptSegment, error) {
	const q = `
		SELECT id, session_id, text, source_language, created_at
		FROM   transcript_segments
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("segment store: query session: %w", err)
	}
	defer rows.Close()

	var out []types.TranscriptSegment
	for rows.Next() {
		var seg types.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Text, &seg.SourceLanguage, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("segment store: scan: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("segment store: rows: %w", err)
	}
	return out, nil
}

// LookupTranslation implements [store.TranslationStore].
func (s *Store) LookupTranslation(ctx context.Context, key store.TranslationKey) (store.TranslationEntry, bool, error) {
	const q = `
		SELECT source_text, target_lang, translated_text, source_lang, engine, quality, created_at
		FROM   translation_cache
		WHERE  source_text = $1 AND target_lang = $2`

	var entry store.TranslationEntry
	err := s.pool.QueryRow(ctx, q, key.SourceText, key.TargetLang).Scan(
		&entry.Key.SourceText,
		&entry.Key.TargetLang,
		&entry.TranslatedText,
		&entry.SourceLang,
		&entry.Engine,
		&entry.Quality,
		&entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.TranslationEntry{}, false, nil
	}
	if err != nil {
		return store.TranslationEntry{}, false, fmt.Errorf("translation store: lookup: %w", err)
	}
	return entry, true, nil
}

// InsertTranslation implements [store.TranslationStore]. ON CONFLICT DO
// NOTHING keeps the first writer's row when concurrent generators race on
// the same key, so all callers converge on one cached value.
func (s *Store) InsertTranslation(ctx context.Context, entry store.TranslationEntry) error {
	const q = `
		INSERT INTO translation_cache
		    (source_text, target_lang, translated_text, source_lang, engine, quality, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_text, target_lang) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		entry.Key.SourceText,
		entry.Key.TargetLang,
		entry.TranslatedText,
		entry.SourceLang,
		entry.Engine,
		entry.Quality,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("translation store: insert: %w", err)
	}
	return nil
}
