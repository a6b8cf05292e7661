package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Transcript segments are append-only: rows are inserted once after dedup
// acceptance and never updated. seq preserves acceptance order even when
// created_at collides at millisecond resolution.
const ddlTranscriptSegments = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    seq             BIGSERIAL    PRIMARY KEY,
    id              TEXT         NOT NULL UNIQUE,
    session_id      TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    source_language TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_session
    ON transcript_segments (session_id, seq);
`

// The unique index on (source_text, target_lang) is what makes concurrent
// inserts converge: INSERT … ON CONFLICT DO NOTHING keeps the first row.
const ddlTranslationCache = `
CREATE TABLE IF NOT EXISTS translation_cache (
    seq             BIGSERIAL    PRIMARY KEY,
    source_text     TEXT         NOT NULL,
    target_lang     TEXT         NOT NULL,
    translated_text TEXT         NOT NULL,
    source_lang     TEXT         NOT NULL DEFAULT '',
    engine          TEXT         NOT NULL DEFAULT '',
    quality         DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_translation_cache_key
    ON translation_cache (source_text, target_lang);

CREATE INDEX IF NOT EXISTS idx_translation_cache_target
    ON translation_cache (target_lang);
`

// Migrate creates all required tables and indexes. It is idempotent and safe
// to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlTranscriptSegments, ddlTranslationCache} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
