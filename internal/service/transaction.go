package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type txStatus string

const (
	txPending    txStatus = "pending"
	txCommitted  txStatus = "committed"
	txRolledBack txStatus = "rolled_back"
)

// rollbackOp is one reversible delivery stage. A no-op rollback is still
// registered for stages that cannot be reversed (a sent email), so the audit
// trail shows every stage.
type rollbackOp struct {
	id          string
	description string
	rollback    func(ctx context.Context) error
}

// transaction is the in-memory operation log backing one delivery run. It is
// created per request and discarded after completion; nothing is persisted.
type transaction struct {
	id        string
	status    txStatus
	ops       []rollbackOp
	startedAt time.Time
	duration  time.Duration
}

func newTransaction() *transaction {
	return &transaction{
		id:        uuid.New().String(),
		status:    txPending,
		startedAt: time.Now(),
	}
}

// add registers a completed stage and its compensating action.
func (t *transaction) add(description string, rollback func(ctx context.Context) error) {
	t.ops = append(t.ops, rollbackOp{
		id:          uuid.New().String(),
		description: description,
		rollback:    rollback,
	})
}

// commit closes the transaction successfully and records its duration.
func (t *transaction) commit() {
	t.status = txCommitted
	t.duration = time.Since(t.startedAt)
}

// rollbackAll executes the registered compensations in reverse order. A
// failing rollback step is logged and skipped; rollback is best effort and
// must never mask the primary failure.
func (t *transaction) rollbackAll(ctx context.Context, logger *zap.Logger) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if err := op.rollback(ctx); err != nil {
			logger.Error("Rollback step failed",
				zap.String("transaction_id", t.id),
				zap.String("operation", op.description),
				zap.Error(err))
			continue
		}
		logger.Info("Rolled back operation",
			zap.String("transaction_id", t.id),
			zap.String("operation", op.description))
	}
	t.status = txRolledBack
	t.duration = time.Since(t.startedAt)
}
