package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/realtime"
)

const unreadCachePrefix = "unread-counts:"

// countsCache is the unread-count cache boundary. A nil cache means counts
// are always recomputed from the store.
type countsCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// redisCountsCache adapts a redis client to the countsCache boundary.
type redisCountsCache struct {
	client *redis.Client
}

func (c *redisCountsCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

func (c *redisCountsCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCountsCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// MessageService owns per-recipient read and visibility state. Every
// mutation keeps the two client views consistent and pushes the change plus
// fresh unread counts to the affected recipient.
type MessageService struct {
	repo      MessageStore
	publisher RealtimePublisher
	cache     countsCache
	cacheTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewMessageService creates a new message service. cache may be nil, in
// which case unread counts are always computed from the store.
func NewMessageService(
	repo MessageStore,
	publisher RealtimePublisher,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *MessageService {
	s := &MessageService{
		repo:      repo,
		publisher: publisher,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
	if cache != nil {
		s.cache = &redisCountsCache{client: cache}
	}
	return s
}

// Create persists a new message with one all-false state entry per distinct
// recipient. Duplicate recipient ids collapse to a single entry. No realtime
// push happens here; delivery pushes belong to the orchestrator.
func (s *MessageService) Create(
	ctx context.Context,
	recipientIDs []string,
	create model.MessageCreate,
	creator *model.Creator,
) (*model.Message, error) {
	if create.Title == "" {
		return nil, &model.ValidationError{Field: "title", Reason: "required"}
	}
	if create.Content == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "required"}
	}

	msgType := create.Type
	if msgType == "" {
		msgType = model.TypeAnnouncement
	}
	priority := create.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	recipients := make(map[string]*model.RecipientState)
	for _, id := range recipientIDs {
		if id == "" {
			continue
		}
		if _, ok := recipients[id]; !ok {
			recipients[id] = &model.RecipientState{}
		}
	}

	message := &model.Message{
		ID:           uuid.New().String(),
		Title:        create.Title,
		Content:      create.Content,
		Type:         msgType,
		Priority:     priority,
		Creator:      creator,
		HideCreator:  create.HideCreator,
		IsActive:     true,
		TargetUserID: create.TargetUserID,
		Metadata:     create.Metadata,
		Recipients:   recipients,
		CreatedAt:    s.now(),
		ExpiresAt:    create.ExpiresAt,
	}

	if err := s.repo.Save(ctx, message); err != nil {
		return nil, err
	}

	// The new message changes every recipient's unread totals.
	for id := range recipients {
		s.invalidateCounts(ctx, id)
	}

	s.logger.Info("Message created",
		zap.String("message_id", message.ID),
		zap.String("type", string(message.Type)),
		zap.Int("recipients", len(recipients)))

	return message, nil
}

// MarkReadInSystem marks the message read in the recipient's system view only.
func (s *MessageService) MarkReadInSystem(ctx context.Context, messageID, recipientID string) error {
	return s.mutate(ctx, messageID, recipientID, realtime.EventMessageRead,
		func(state *model.RecipientState, now time.Time) {
			state.MarkReadInSystem(now)
		})
}

// MarkReadInBell marks the message read in the recipient's bell view only.
func (s *MessageService) MarkReadInBell(ctx context.Context, messageID, recipientID string) error {
	return s.mutate(ctx, messageID, recipientID, realtime.EventNotificationRead,
		func(state *model.RecipientState, now time.Time) {
			state.MarkReadInBell(now)
		})
}

// MarkReadEverywhere marks the message read in both views atomically. Used
// whenever a recipient reads a message from either surface, so the other
// surface never shows it unread again.
func (s *MessageService) MarkReadEverywhere(ctx context.Context, messageID, recipientID string) error {
	return s.mutate(ctx, messageID, recipientID, realtime.EventMessageRead,
		func(state *model.RecipientState, now time.Time) {
			state.MarkReadEverywhere(now)
		})
}

// DeleteFromSystem hides the message from the recipient's system view. The
// bell view and every other recipient are unaffected; the record persists
// until retention cleanup retires it.
func (s *MessageService) DeleteFromSystem(ctx context.Context, messageID, recipientID string) error {
	return s.mutate(ctx, messageID, recipientID, realtime.EventMessageDeleted,
		func(state *model.RecipientState, now time.Time) {
			state.MarkDeletedFromSystem(now)
		})
}

// RemoveFromBell hides the message from the recipient's bell dropdown. The
// system view is unaffected.
func (s *MessageService) RemoveFromBell(ctx context.Context, messageID, recipientID string) error {
	return s.mutate(ctx, messageID, recipientID, realtime.EventNotificationRemoved,
		func(state *model.RecipientState, now time.Time) {
			state.MarkRemovedFromBell(now)
		})
}

// GetRecipientState returns the stored state for one recipient of a message.
func (s *MessageService) GetRecipientState(ctx context.Context, messageID, recipientID string) (*model.RecipientState, error) {
	message, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	state := message.StateFor(recipientID)
	if state == nil {
		return nil, model.ErrRecipientNotTargeted
	}
	return state, nil
}

// GetSystemMessages lists active messages visible in the recipient's
// system-message view.
func (s *MessageService) GetSystemMessages(ctx context.Context, recipientID string) ([]*model.Message, error) {
	messages, err := s.repo.FindActiveForRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	visible := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		if state := m.StateFor(recipientID); state != nil && !state.DeletedFromSystem {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// GetBellNotifications lists active messages visible in the recipient's
// bell dropdown.
func (s *MessageService) GetBellNotifications(ctx context.Context, recipientID string) ([]*model.Message, error) {
	messages, err := s.repo.FindActiveForRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	visible := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		if state := m.StateFor(recipientID); state != nil && !state.RemovedFromBell {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// UnreadCounts computes the recipient's unread totals. The two view counters
// are independent: a message excluded from one view can still count as unread
// in the other.
func (s *MessageService) UnreadCounts(ctx context.Context, recipientID string) (*model.UnreadCounts, error) {
	if cached := s.cachedCounts(ctx, recipientID); cached != nil {
		return cached, nil
	}

	messages, err := s.repo.FindActiveForRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	counts := &model.UnreadCounts{}
	for _, m := range messages {
		state := m.StateFor(recipientID)
		if state == nil {
			continue
		}
		if !state.RemovedFromBell && !state.ReadInBell {
			counts.BellNotifications++
		}
		if !state.DeletedFromSystem && !state.ReadInSystem {
			counts.SystemMessages++
		}
	}
	counts.Total = counts.BellNotifications + counts.SystemMessages

	s.storeCounts(ctx, recipientID, counts)

	return counts, nil
}

// mutate loads the message, applies one monotonic state change, persists it,
// and pushes the view event plus fresh unread counts to the recipient. Push
// failures are non-critical here: the state change has already been stored,
// so they are logged and swallowed.
func (s *MessageService) mutate(
	ctx context.Context,
	messageID, recipientID, event string,
	change func(*model.RecipientState, time.Time),
) error {
	message, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}

	state := message.StateFor(recipientID)
	if state == nil {
		return model.ErrRecipientNotTargeted
	}

	change(state, s.now())

	if err := s.repo.UpdateRecipientState(ctx, messageID, recipientID, state); err != nil {
		return err
	}

	s.invalidateCounts(ctx, recipientID)

	if err := s.publisher.Publish(ctx, recipientID, event, map[string]interface{}{
		"message_id": messageID,
		"state":      state,
	}); err != nil {
		s.logger.Warn("Realtime push failed after state change",
			zap.String("event", event),
			zap.String("message_id", messageID),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
	}

	s.pushUnreadCounts(ctx, recipientID)

	return nil
}

// pushUnreadCounts recomputes and publishes the recipient's unread counts.
// Best effort: failures are logged, never surfaced.
func (s *MessageService) pushUnreadCounts(ctx context.Context, recipientID string) {
	counts, err := s.UnreadCounts(ctx, recipientID)
	if err != nil {
		s.logger.Warn("Failed to recompute unread counts",
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return
	}

	if err := s.publisher.Publish(ctx, recipientID, realtime.EventUnreadCountUpdate, counts); err != nil {
		s.logger.Warn("Failed to push unread counts",
			zap.String("recipient_id", recipientID),
			zap.Error(err))
	}
}

func (s *MessageService) cachedCounts(ctx context.Context, recipientID string) *model.UnreadCounts {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, unreadCachePrefix+recipientID)
	if err != nil {
		return nil
	}

	var counts model.UnreadCounts
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil
	}
	return &counts
}

func (s *MessageService) storeCounts(ctx context.Context, recipientID string, counts *model.UnreadCounts) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, unreadCachePrefix+recipientID, raw, s.cacheTTL); err != nil {
		s.logger.Debug("Failed to cache unread counts", zap.Error(err))
	}
}

func (s *MessageService) invalidateCounts(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, unreadCachePrefix+recipientID); err != nil {
		s.logger.Debug("Failed to invalidate unread counts cache", zap.Error(err))
	}
}
