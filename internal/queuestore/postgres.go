package queuestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/vitalconnect/resilor/internal/models"
)

// PostgresStore is the reference schema: one request_queue table, a
// unique index on idempotency_key, and a composite index on
// (priority DESC, created_at ASC).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. Callers own the
// connection lifecycle; the store never closes it.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, item *models.QueuedRequest) error {
	headers, err := json.Marshal(item.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	body, err := json.Marshal(item.Body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	var idemp sql.NullString
	if item.IdempotencyKey != "" {
		idemp = sql.NullString{String: item.IdempotencyKey, Valid: true}
	}
	var expiresAt sql.NullTime
	if item.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *item.ExpiresAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_queue
			(id, method, url, headers, body, priority, retry_count, max_retries,
			 created_at, expires_at, status, idempotency_key, sms_eligible)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO UPDATE SET
			id = EXCLUDED.id,
			method = EXCLUDED.method,
			url = EXCLUDED.url,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			priority = EXCLUDED.priority,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			sms_eligible = EXCLUDED.sms_eligible
	`,
		item.ID, string(item.Method), item.URL, headers, body, int(item.Priority),
		item.RetryCount, item.MaxRetries, item.CreatedAt, expiresAt, string(item.Status),
		idemp, item.SMSEligible,
	)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.QueuedRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, method, url, headers, body, priority, retry_count, max_retries,
		       created_at, expires_at, status, idempotency_key, sms_eligible
		FROM request_queue WHERE id = $1
	`, id)

	item, err := scanQueuedRequest(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrRequestNotFound
	}
	return item, err
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.QueuedStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE request_queue SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE request_queue SET retry_count = retry_count + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_queue WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM request_queue
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*models.QueuedRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, method, url, headers, body, priority, retry_count, max_retries,
		       created_at, expires_at, status, idempotency_key, sms_eligible
		FROM request_queue
		WHERE status IN ('PENDING', 'PROCESSING')
		ORDER BY priority DESC, created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueuedRequest
	for rows.Next() {
		item, err := scanQueuedRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_queue WHERE status IN ('PENDING', 'PROCESSING')
	`).Scan(&n)
	return n, err
}

func (s *PostgresStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_queue`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanQueuedRequest(row scanner) (*models.QueuedRequest, error) {
	var item models.QueuedRequest
	var method, status string
	var priority int
	var headersRaw, bodyRaw []byte
	var expiresAt sql.NullTime
	var idemp sql.NullString

	err := row.Scan(
		&item.ID, &method, &item.URL, &headersRaw, &bodyRaw, &priority,
		&item.RetryCount, &item.MaxRetries, &item.CreatedAt, &expiresAt,
		&status, &idemp, &item.SMSEligible,
	)
	if err != nil {
		return nil, err
	}

	item.Method = models.Method(method)
	item.Status = models.QueuedStatus(status)
	item.Priority = models.Priority(priority)
	if idemp.Valid {
		item.IdempotencyKey = idemp.String
	}
	if expiresAt.Valid {
		item.ExpiresAt = &expiresAt.Time
	}
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &item.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if len(bodyRaw) > 0 {
		if err := json.Unmarshal(bodyRaw, &item.Body); err != nil {
			return nil, fmt.Errorf("unmarshal body: %w", err)
		}
	}
	return &item, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrRequestNotFound
	}
	return nil
}
