// Package attendance implements the teacher and student actions against the
// attendance contract and keeps each session's last results for display.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainattend/internal/chain"
	"chainattend/internal/journal"
	"chainattend/internal/queue"
	"chainattend/internal/session"
	"chainattend/pkg/logger"
)

// StatusSending is shown while a transaction waits for confirmation.
const StatusSending = "Sending transaction..."

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotRegistered = errors.New("account is not a registered student")
)

// ValidationError is returned when an action is rejected before any
// contract call. Message is the text shown to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ErrorStatus formats err the way action failures are displayed.
func ErrorStatus(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return "Error: " + chain.ErrorMessage(err)
}

// ParseAddressList splits newline-separated input, trimming each line and
// dropping empty ones. Order and duplicates are preserved.
func ParseAddressList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if a := strings.TrimSpace(line); a != "" {
			out = append(out, a)
		}
	}
	return out
}

const publishTimeout = 5 * time.Second

// recorder publishes journal entries for submitted transactions.
type recorder struct {
	sess   *session.Session
	events queue.Publisher
	log    *zap.Logger
}

func (r recorder) record(ctx context.Context, method string, args []string, rcpt chain.Receipt, err error) {
	if r.events == nil {
		return
	}
	e := journal.Entry{
		SessionID:   r.sess.ID,
		Account:     r.sess.Account,
		Method:      method,
		Args:        args,
		TxHash:      rcpt.TxHash,
		BlockNumber: rcpt.BlockNumber,
		Status:      journal.StatusConfirmed,
	}
	if err != nil {
		e.Status = journal.StatusFailed
		e.Error = chain.ErrorMessage(err)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if perr := journal.Publish(pctx, r.events, e); perr != nil {
		r.log.Warn("journal publish failed", zap.String(logger.FieldMethod, method), zap.Error(perr))
	}
}
