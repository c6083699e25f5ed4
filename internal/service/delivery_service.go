package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/realtime"
)

// DeliveryService composes the trio: optional email, the persisted message,
// and a realtime push per recipient, as one logical operation. Stage
// failures trigger reverse-order rollback of the stages already completed
// when the request enables it.
//
// A realtime push failure fails the whole delivery even though the email and
// the persisted record already succeeded. That strictness is deliberate and
// load-bearing for callers that treat the result as all-or-nothing; do not
// soften it to best-effort without checking them.
type DeliveryService struct {
	messages  *MessageService
	repo      MessageStore
	publisher RealtimePublisher
	mailer    Mailer
	identity  IdentityResolver
	recovery  *RecoveryService
	configs   *config.Manager
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewDeliveryService creates a new delivery orchestrator. mailer and
// identity may be nil when the email channel is disabled; deliveries carrying
// an email request then fail that stage.
func NewDeliveryService(
	messages *MessageService,
	repo MessageStore,
	publisher RealtimePublisher,
	mailer Mailer,
	identity IdentityResolver,
	recovery *RecoveryService,
	configs *config.Manager,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		messages:  messages,
		repo:      repo,
		publisher: publisher,
		mailer:    mailer,
		identity:  identity,
		recovery:  recovery,
		configs:   configs,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Deliver runs one trio delivery. Validation failures are returned as an
// error before any side effect; every later failure is reported through the
// structured result instead. On a failed run NotificationsSent is zero even
// if some pushes landed first: the message they referenced was rolled back.
func (s *DeliveryService) Deliver(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &model.ValidationError{Field: "request", Reason: err.Error()}
	}
	if len(req.Recipients) == 0 {
		return nil, &model.ValidationError{Field: "recipients", Reason: "at least one recipient required"}
	}

	tx := newTransaction()
	s.logger.Info("Delivery started",
		zap.String("transaction_id", tx.id),
		zap.Int("recipients", len(req.Recipients)),
		zap.Bool("email", req.Email != nil),
		zap.Bool("rollback_enabled", req.Options.EnableRollback))

	// Stage 1: optional email.
	var emailID string
	if req.Email != nil {
		id, err := s.sendEmail(ctx, req)
		if err != nil {
			decision := s.recovery.HandleFailure(err, ChannelEmail)
			if req.Options.EnableRollback {
				// Nothing persisted yet; abort before the record exists.
				tx.rollbackAll(ctx, s.logger)
				return s.failed(tx, err, true, string(decision.Action)), nil
			}
			s.logger.Warn("Email stage failed, continuing without email",
				zap.String("transaction_id", tx.id),
				zap.Error(err))
		} else {
			emailID = id
			s.recovery.RecordSuccess(ChannelEmail)
			// A sent email cannot be unsent; the no-op keeps the stage in
			// the rollback audit trail.
			tx.add(fmt.Sprintf("email %s (no-op, cannot unsend)", emailID), func(context.Context) error {
				return nil
			})
		}
	}

	// Stage 2: persist the message with all recipient flags false.
	message, err := s.messages.Create(ctx, req.Recipients, req.Record, req.Creator)
	if err != nil {
		decision := s.recovery.HandleFailure(err, ChannelStorage)
		rolledBack := false
		if req.Options.EnableRollback {
			tx.rollbackAll(ctx, s.logger)
			rolledBack = true
		}
		return s.failed(tx, err, rolledBack, string(decision.Action)), nil
	}
	s.recovery.RecordSuccess(ChannelStorage)
	tx.add(fmt.Sprintf("message %s", message.ID), func(ctx context.Context) error {
		return s.repo.Delete(ctx, message.ID)
	})

	// Stage 3: realtime push per distinct recipient, in request order.
	sent := 0
	for _, recipientID := range dedup(req.Recipients) {
		if err := s.pushToRecipient(ctx, message, recipientID); err != nil {
			decision := s.recovery.HandleFailure(err, ChannelRealtime)
			rolledBack := false
			if req.Options.EnableRollback {
				tx.rollbackAll(ctx, s.logger)
				rolledBack = true
			}
			s.logger.Error("Delivery failed during realtime push",
				zap.String("transaction_id", tx.id),
				zap.String("message_id", message.ID),
				zap.String("recipient_id", recipientID),
				zap.Int("pushes_before_failure", sent),
				zap.Error(err))
			return s.failed(tx, err, rolledBack, string(decision.Action)), nil
		}
		sent++
	}
	s.recovery.RecordSuccess(ChannelRealtime)

	tx.commit()
	s.logger.Info("Delivery committed",
		zap.String("transaction_id", tx.id),
		zap.String("message_id", message.ID),
		zap.Int("notifications_sent", sent),
		zap.Duration("duration", tx.duration))

	return &model.DeliveryResult{
		Success:           true,
		MessageID:         message.ID,
		EmailID:           emailID,
		NotificationsSent: sent,
		Metrics:           model.DeliveryMetrics{DurationMs: tx.duration.Milliseconds()},
	}, nil
}

// sendEmail runs the email stage: breaker check, recipient resolution when
// the address was omitted, then the send raced against the configured
// timeout.
func (s *DeliveryService) sendEmail(ctx context.Context, req model.DeliveryRequest) (string, error) {
	if !s.recovery.Allow(ChannelEmail) {
		return "", &model.ChannelCircuitError{Channel: ChannelEmail, RetryAfter: s.configs.Engine().BreakerCooldown}
	}
	if s.mailer == nil {
		return "", &model.ChannelTransientError{Channel: ChannelEmail, Err: fmt.Errorf("email channel not configured")}
	}

	email := *req.Email
	if email.To == "" {
		if s.identity == nil || len(req.Recipients) != 1 {
			return "", &model.ValidationError{Field: "email.to", Reason: "address required when recipients cannot be resolved"}
		}
		identity, err := s.identity.Resolve(ctx, req.Recipients[0])
		if err != nil {
			return "", &model.ChannelTransientError{Channel: ChannelEmail, Err: err}
		}
		email.To = identity.Email
		if email.Data == nil {
			email.Data = make(map[string]interface{})
		}
		if _, ok := email.Data["display_name"]; !ok {
			email.Data["display_name"] = identity.DisplayName
		}
	}

	return s.raceEmail(ctx, email, s.configs.Engine().EmailTimeout)
}

type emailOutcome struct {
	id  string
	err error
}

// raceEmail races the blocking SMTP send against a deadline so a slow
// channel never holds the whole request. The loser keeps running in the
// background and is observed for logging only.
func (s *DeliveryService) raceEmail(ctx context.Context, email model.EmailRequest, timeout time.Duration) (string, error) {
	done := make(chan emailOutcome, 1)

	go func() {
		id, err := s.mailer.Send(email)
		done <- emailOutcome{id: id, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		if result.err != nil {
			return "", &model.ChannelTransientError{Channel: ChannelEmail, Err: result.err}
		}
		return result.id, nil
	case <-timer.C:
		go s.observeLateEmail(done, timeout)
		return "", &model.ChannelTransientError{
			Channel: ChannelEmail,
			Err:     fmt.Errorf("send timed out after %s", timeout),
		}
	case <-ctx.Done():
		go s.observeLateEmail(done, timeout)
		return "", &model.ChannelTransientError{Channel: ChannelEmail, Err: ctx.Err()}
	}
}

// observeLateEmail drains the losing send so its outcome still reaches the
// logs.
func (s *DeliveryService) observeLateEmail(done <-chan emailOutcome, timeout time.Duration) {
	result := <-done
	if result.err != nil {
		s.logger.Warn("Late email send failed after losing the timeout race",
			zap.Duration("timeout", timeout),
			zap.Error(result.err))
		return
	}
	s.logger.Warn("Email send completed after losing the timeout race",
		zap.String("email_id", result.id),
		zap.Duration("timeout", timeout))
}

// pushToRecipient delivers the created-message event and the recipient's
// fresh unread counts, both bounded by the push timeout.
func (s *DeliveryService) pushToRecipient(ctx context.Context, message *model.Message, recipientID string) error {
	pushCtx, cancel := context.WithTimeout(ctx, s.configs.Engine().PushTimeout)
	defer cancel()

	if err := s.publisher.Publish(pushCtx, recipientID, realtime.EventMessageCreated, message); err != nil {
		return &model.ChannelTransientError{Channel: ChannelRealtime, Err: err}
	}

	counts, err := s.messages.UnreadCounts(ctx, recipientID)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(pushCtx, recipientID, realtime.EventUnreadCountUpdate, counts); err != nil {
		return &model.ChannelTransientError{Channel: ChannelRealtime, Err: err}
	}

	return nil
}

// failed builds the structured failure result for a delivery run.
func (s *DeliveryService) failed(tx *transaction, err error, rolledBack bool, action string) *model.DeliveryResult {
	if tx.status == txPending {
		tx.duration = time.Since(tx.startedAt)
	}
	return &model.DeliveryResult{
		Success:           false,
		Error:             fmt.Sprintf("%v (recovery: %s)", err, action),
		NotificationsSent: 0,
		RollbackCompleted: rolledBack,
		Metrics:           model.DeliveryMetrics{DurationMs: tx.duration.Milliseconds()},
	}
}

// dedup returns the recipient ids with duplicates removed, first occurrence
// order preserved.
func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
