package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// QueuedMessage is one message read from a pgmq queue. MsgID doubles as the
// handle for archiving; ReadCount reflects how many times the message has
// been delivered, including this delivery.
type QueuedMessage struct {
	MsgID      int64
	ReadCount  int
	EnqueuedAt time.Time
	Payload    []byte
}

// EnsureQueue creates the pgmq queue if it does not already exist.
// pgmq.create is idempotent, so this is safe to call on every startup.
func (db *DB) EnsureQueue(ctx context.Context, queue string) error {
	_, err := db.pool.Exec(ctx, `SELECT pgmq.create($1)`, queue)
	if err != nil {
		return fmt.Errorf("storage: ensure queue %s: %w", queue, err)
	}
	return nil
}

// SendMessage publishes a JSON payload to the queue and returns the pgmq
// message ID.
func (db *DB) SendMessage(ctx context.Context, queue string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("storage: marshal queue payload: %w", err)
	}

	var msgID int64
	err = db.pool.QueryRow(ctx,
		`SELECT pgmq.send(queue_name => $1, msg => $2::jsonb)`,
		queue, string(body),
	).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("storage: send to queue %s: %w", queue, err)
	}
	return msgID, nil
}

// ReadMessages polls the queue for up to qty messages, making them invisible
// to other consumers for the visibility timeout. An empty poll returns an
// empty slice, not an error.
func (db *DB) ReadMessages(ctx context.Context, queue string, vt time.Duration, qty int) ([]QueuedMessage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT msg_id, read_ct, enqueued_at, message
		 FROM pgmq.read(queue_name => $1, vt => $2::int, qty => $3::int)`,
		queue, int(vt.Seconds()), qty,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: read queue %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		if err := rows.Scan(&m.MsgID, &m.ReadCount, &m.EnqueuedAt, &m.Payload); err != nil {
			return nil, fmt.Errorf("storage: scan queue message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ArchiveMessage moves a message to the queue's archive table. Called only
// when the job has reached a terminal state; transient failures leave the
// message in place for redelivery after the visibility timeout.
func (db *DB) ArchiveMessage(ctx context.Context, queue string, msgID int64) error {
	var archived bool
	err := db.pool.QueryRow(ctx,
		`SELECT pgmq.archive(queue_name => $1, msg_id => $2::bigint)`,
		queue, msgID,
	).Scan(&archived)
	if err != nil {
		return fmt.Errorf("storage: archive message %d: %w", msgID, err)
	}
	if !archived {
		return fmt.Errorf("storage: archive message %d: %w", msgID, pgx.ErrNoRows)
	}
	return nil
}
