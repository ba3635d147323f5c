package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kisohq/kiso/pkg/models"
)

var wordRe = regexp.MustCompile(`\w+`)

// SaveFact persists a fact, clamping confidence into [0, 1].
func (s *Store) SaveFact(ctx context.Context, f models.Fact) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO facts (content, source, session, category, confidence, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		f.Content, string(f.Source), f.Session, string(f.Category),
		clampConfidence(f.Confidence), fmtTime(now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read fact id: %w", err)
	}
	return id, nil
}

// GetFacts returns facts visible to the given session. Project, tool and
// general facts are global; user facts are visible only in the session that
// produced them, unless their session is null (legacy global) or the
// requester is admin.
func (s *Store) GetFacts(ctx context.Context, session string, isAdmin bool) ([]models.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, session, category, confidence, last_used, use_count, created_at
		FROM facts
		WHERE category != 'user' OR session IS NULL OR session = ? OR ?
		ORDER BY confidence DESC, id`,
		session, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchFacts tokenizes the query, runs BM25-ranked full-text search over the
// facts index, and falls back to GetFacts when the query is empty or matches
// nothing. The same visibility scoping as GetFacts applies.
func (s *Store) SearchFacts(ctx context.Context, query, session string, isAdmin bool, limit int) ([]models.Fact, error) {
	tokens := wordRe.FindAllString(query, -1)
	if len(tokens) == 0 {
		return s.GetFacts(ctx, session, isAdmin)
	}
	// Quote each token so FTS5 treats it as a bare term, OR-joined for recall.
	for i, t := range tokens {
		tokens[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	match := strings.Join(tokens, " OR ")

	if limit <= 0 {
		limit = 15
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.content, f.source, f.session, f.category, f.confidence,
			f.last_used, f.use_count, f.created_at
		FROM facts_fts
		JOIN facts f ON f.id = facts_fts.rowid
		WHERE facts_fts MATCH ?
			AND (f.category != 'user' OR f.session IS NULL OR f.session = ? OR ?)
		ORDER BY bm25(facts_fts)
		LIMIT ?`,
		match, session, isAdmin, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search facts: %w", err)
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return s.GetFacts(ctx, session, isAdmin)
	}
	return facts, nil
}

// UpdateFactUsage increments use_count and refreshes last_used for every
// fact shown to the planner on a successful plan.
func (s *Store) UpdateFactUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ts := fmtTime(now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE facts SET use_count = use_count + 1, last_used = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare fact usage update: %w", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
				return fmt.Errorf("failed to update fact %d usage: %w", id, err)
			}
		}
		return nil
	})
}

// DecayFacts lowers confidence by rate for every fact not used within
// maxAge. Facts never used decay based on creation time.
func (s *Store) DecayFacts(ctx context.Context, maxAge time.Duration, rate float64) (int64, error) {
	cutoff := fmtTime(now().Add(-maxAge))
	res, err := s.exec(ctx, `
		UPDATE facts SET confidence = MAX(0.0, confidence - ?)
		WHERE COALESCE(last_used, created_at) < ?`,
		rate, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to decay facts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ArchiveLowConfidenceFacts moves facts below the threshold into the archive
// (soft delete) and returns how many were moved.
func (s *Store) ArchiveLowConfidenceFacts(ctx context.Context, threshold float64) (int64, error) {
	var moved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := fmtTime(now())
		res, err := tx.ExecContext(ctx, `
			INSERT INTO facts_archive (content, source, session, category, confidence, last_used, use_count, created_at, archived_at)
			SELECT content, source, session, category, confidence, last_used, use_count, created_at, ?
			FROM facts WHERE confidence < ?`, ts, threshold)
		if err != nil {
			return fmt.Errorf("failed to archive facts: %w", err)
		}
		moved, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM facts WHERE confidence < ?`, threshold); err != nil {
			return fmt.Errorf("failed to delete archived facts: %w", err)
		}
		return nil
	})
	return moved, err
}

// ReplaceFacts swaps the entire facts table for the consolidated set in one
// transaction. Provenance sessions are preserved by the caller building the
// replacement list.
func (s *Store) ReplaceFacts(ctx context.Context, facts []models.Fact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facts`); err != nil {
			return fmt.Errorf("failed to clear facts: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO facts (content, source, session, category, confidence, use_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare fact insert: %w", err)
		}
		defer stmt.Close()
		ts := fmtTime(now())
		for _, f := range facts {
			if _, err := stmt.ExecContext(ctx, f.Content, string(f.Source), f.Session,
				string(f.Category), clampConfidence(f.Confidence), f.UseCount, ts); err != nil {
				return fmt.Errorf("failed to insert consolidated fact: %w", err)
			}
		}
		return nil
	})
}

// CountFacts returns the total number of live facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return n, nil
}

// CountArchivedFacts returns the number of archived facts.
func (s *Store) CountArchivedFacts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts_archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived facts: %w", err)
	}
	return n, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func scanFacts(rows *sql.Rows) ([]models.Fact, error) {
	var out []models.Fact
	for rows.Next() {
		var f models.Fact
		var lastUsed sql.NullString
		var created string
		if err := rows.Scan(&f.ID, &f.Content, &f.Source, &f.Session, &f.Category,
			&f.Confidence, &lastUsed, &f.UseCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		if lastUsed.Valid {
			t := parseTime(lastUsed.String)
			f.LastUsed = &t
		}
		f.CreatedAt = parseTime(created)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return out, nil
}
