// Package journal records the contract transactions submitted through the
// service.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainattend/internal/queue"
	"chainattend/pkg/logger"
)

// Transaction outcomes.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Entry is one submitted transaction.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Account     string    `json:"account"`
	Method      string    `json:"method"`
	Args        []string  `json:"args"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Publish sends e to p as a tx message, filling ID and OccurredAt if unset.
func Publish(ctx context.Context, p queue.Publisher, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	msg, err := queue.NewMessage(queue.TypeTx, e)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msg)
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
}

// Drain writes every tx message from msgs to s until msgs closes. Bad
// messages and insert failures are logged and skipped.
func Drain(ctx context.Context, msgs <-chan queue.Message, s Store, log *zap.Logger) int {
	written := 0
	for msg := range msgs {
		if msg.Type != queue.TypeTx {
			continue
		}
		var e Entry
		if err := msg.Decode(&e); err != nil {
			log.Warn("undecodable journal message", zap.Error(err))
			continue
		}
		if err := s.Insert(ctx, e); err != nil {
			log.Error("journal insert failed",
				zap.String("entry_id", e.ID),
				zap.String(logger.FieldMethod, e.Method),
				zap.Error(err))
			continue
		}
		written++
		log.Debug("journal entry recorded",
			zap.String("entry_id", e.ID),
			zap.String(logger.FieldMethod, e.Method),
			zap.String(logger.FieldTxHash, e.TxHash))
	}
	return written
}

// Repository persists journal entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes e. Replayed entries are ignored.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("entry id required")
	}
	if e.Args == nil {
		e.Args = []string{}
	}
	args, err := json.Marshal(e.Args)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tx_journal (id, session_id, account, method, args, tx_hash, block_number, status, error, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.SessionID, e.Account, e.Method, string(args), e.TxHash, int64(e.BlockNumber), e.Status, e.Error, e.OccurredAt)
	return err
}

// List returns entries newest first, optionally filtered by signing account
// (case-insensitive).
func (r *Repository) List(ctx context.Context, account string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, session_id, account, method, args, tx_hash, block_number, status, error, occurred_at, created_at FROM tx_journal`
	var args []any
	if account != "" {
		args = append(args, strings.ToLower(account))
		query += fmt.Sprintf(" WHERE LOWER(account) = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var (
			e     Entry
			raw   []byte
			block int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Account, &e.Method, &raw, &e.TxHash, &block, &e.Status, &e.Error, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Args); err != nil {
			return nil, fmt.Errorf("entry %s args: %w", e.ID, err)
		}
		e.BlockNumber = uint64(block)
		res = append(res, e)
	}
	return res, rows.Err()
}
