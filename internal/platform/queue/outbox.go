package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Outbox is a queue backed by a Postgres table. Consumers claim rows with
// SELECT ... FOR UPDATE SKIP LOCKED so several workers can share it.
type Outbox struct {
	pool         *pgxpool.Pool
	queueName    string
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

// WithPollInterval sets how long an idle consumer waits between polls.
func WithPollInterval(d time.Duration) OutboxOption {
	return func(o *Outbox) { o.pollInterval = d }
}

// WithBatchSize sets how many rows a consumer claims per transaction.
func WithBatchSize(n int) OutboxOption {
	return func(o *Outbox) { o.batchSize = n }
}

// NewOutbox wraps pool. Call EnsureSchema before first use.
func NewOutbox(pool *pgxpool.Pool, queueName string, logger zerolog.Logger, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		pool:         pool,
		queueName:    queueName,
		pollInterval: time.Second,
		batchSize:    10,
		logger:       logger.With().Str("component", "outbox").Str("queue", queueName).Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

const outboxSchema = `CREATE TABLE IF NOT EXISTS hans_outbox (
    id BIGSERIAL PRIMARY KEY,
    queue VARCHAR(255) NOT NULL,
    body BYTEA NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    available_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS hans_outbox_queue_idx ON hans_outbox (queue, available_at, id)`

// EnsureSchema creates the outbox table if it does not exist.
func (o *Outbox) EnsureSchema(ctx context.Context) error {
	if _, err := o.pool.Exec(ctx, outboxSchema); err != nil {
		return fmt.Errorf("queue: create outbox table: %w", err)
	}
	return nil
}

func (o *Outbox) Publish(ctx context.Context, body []byte) error {
	_, err := o.pool.Exec(ctx, `INSERT INTO hans_outbox (queue, body) VALUES ($1, $2)`, o.queueName, body)
	if err != nil {
		return fmt.Errorf("queue: insert outbox row: %w", err)
	}
	return nil
}

// Consume polls for available rows. Handled and dropped rows are deleted;
// retried rows are pushed back with a linear delay.
func (o *Outbox) Consume(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		n, err := o.claimBatch(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error().Err(err).Msg("outbox poll failed")
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type outboxRow struct {
	id       int64
	body     []byte
	attempts int
}

func (o *Outbox) claimBatch(ctx context.Context, handle Handler) (int, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id, body, attempts FROM hans_outbox
WHERE queue = $1 AND available_at <= NOW()
ORDER BY id
LIMIT $2
FOR UPDATE SKIP LOCKED`, o.queueName, o.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outboxRow, error) {
		var r outboxRow
		err := row.Scan(&r.id, &r.body, &r.attempts)
		return r, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan: %w", err)
	}

	for _, r := range claimed {
		herr := handle(ctx, r.body)
		if ShouldRetry(herr) {
			delay := time.Duration(r.attempts+1) * o.pollInterval
			o.logger.Warn().Err(herr).Int64("id", r.id).Msg("requeueing outbox row")
			_, err = tx.Exec(ctx, `UPDATE hans_outbox SET attempts = attempts + 1, available_at = NOW() + $2::interval WHERE id = $1`,
				r.id, fmt.Sprintf("%d milliseconds", delay.Milliseconds()))
		} else {
			if herr != nil {
				o.logger.Error().Err(herr).Int64("id", r.id).Msg("dropping outbox row")
			}
			_, err = tx.Exec(ctx, `DELETE FROM hans_outbox WHERE id = $1`, r.id)
		}
		if err != nil {
			return 0, fmt.Errorf("settle row %d: %w", r.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(claimed), nil
}

func (o *Outbox) Ping(ctx context.Context) error {
	return o.pool.Ping(ctx)
}

// Close releases the pool.
func (o *Outbox) Close() error {
	o.pool.Close()
	return nil
}
