// Package storage persists analysis artifacts in PostgreSQL with a short
// Redis read-through cache in front of session-scoped queries.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chartdesk/analysis-core/internal/workflow"
)

const recordCacheTTL = 5 * time.Minute
const recordKeyPrefix = "chartdesk:records:"

// CachedRecordStore implements workflow.RecordStore with PostgreSQL + Redis
// cache. The Redis client may be nil; queries then always hit the database.
type CachedRecordStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedRecordStore(db *pgxpool.Pool, rdb *redis.Client) *CachedRecordStore {
	return &CachedRecordStore{db: db, redis: rdb}
}

func cacheKey(sessionID string, step workflow.Step) string {
	return fmt.Sprintf("%s%s:%s", recordKeyPrefix, sessionID, step)
}

// Save inserts the record in a single statement and invalidates the session's
// cached query results.
func (s *CachedRecordStore) Save(ctx context.Context, rec *workflow.AnalysisRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO analysis_records
			(id, session_id, step, payload, degraded, success_count, error_count, provider, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		rec.SessionID,
		string(rec.Step),
		payload,
		rec.Degraded,
		rec.SuccessCount,
		rec.ErrorCount,
		rec.Provider,
		rec.Model,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis_records: %w", err)
	}

	if s.redis != nil {
		s.redis.Del(ctx, cacheKey(rec.SessionID, rec.Step), cacheKey(rec.SessionID, ""))
	}
	return nil
}

// Query returns records matching the filter, newest first. Session-scoped
// queries are served from Redis when a fresh copy exists.
func (s *CachedRecordStore) Query(ctx context.Context, filter workflow.RecordFilter) ([]*workflow.AnalysisRecord, error) {
	cacheable := s.redis != nil && filter.SessionID != "" && filter.Limit == 0

	if cacheable {
		cached, err := s.redis.Get(ctx, cacheKey(filter.SessionID, filter.Step)).Bytes()
		if err == nil {
			var records []*workflow.AnalysisRecord
			if err := json.Unmarshal(cached, &records); err == nil {
				return records, nil
			}
		}
	}

	records, err := s.queryDB(ctx, filter)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if data, err := json.Marshal(records); err == nil {
			s.redis.Set(ctx, cacheKey(filter.SessionID, filter.Step), data, recordCacheTTL)
		}
	}
	return records, nil
}

func (s *CachedRecordStore) queryDB(ctx context.Context, filter workflow.RecordFilter) ([]*workflow.AnalysisRecord, error) {
	query := `
		SELECT id, session_id, step, payload, degraded, success_count, error_count, provider, model, created_at
		FROM analysis_records
		WHERE 1=1`
	args := []any{}

	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.Step != "" {
		args = append(args, string(filter.Step))
		query += fmt.Sprintf(" AND step = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analysis_records: %w", err)
	}
	defer rows.Close()

	records := make([]*workflow.AnalysisRecord, 0)
	for rows.Next() {
		var rec workflow.AnalysisRecord
		var step string
		var payload []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&step,
			&payload,
			&rec.Degraded,
			&rec.SuccessCount,
			&rec.ErrorCount,
			&rec.Provider,
			&rec.Model,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan analysis_records: %w", err)
		}
		rec.Step = workflow.Step(step)
		if len(payload) > 0 {
			json.Unmarshal(payload, &rec.Payload)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis_records: %w", err)
	}
	return records, nil
}

// Latest returns the most recent record for a session and step, or nil when
// none exists.
func (s *CachedRecordStore) Latest(ctx context.Context, sessionID string, step workflow.Step) (*workflow.AnalysisRecord, error) {
	records, err := s.queryDB(ctx, workflow.RecordFilter{SessionID: sessionID, Step: step, Limit: 1})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}
