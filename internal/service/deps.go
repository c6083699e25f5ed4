package service

import (
	"context"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/client"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// MessageStore is the persistence boundary shared by the engine services.
// Implemented by repository.MessageRepository.
type MessageStore interface {
	Save(ctx context.Context, m *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindActive(ctx context.Context) ([]*model.Message, error)
	FindActiveForRecipient(ctx context.Context, recipientID string) ([]*model.Message, error)
	UpdateRecipientState(ctx context.Context, messageID, recipientID string, state *model.RecipientState) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// RealtimePublisher pushes typed events to a recipient's live connections.
// Implemented by realtime.Publisher.
type RealtimePublisher interface {
	Publish(ctx context.Context, recipientID, event string, payload interface{}) error
}

// Mailer is the outbound email channel. Implemented by client.EmailClient.
type Mailer interface {
	Send(req model.EmailRequest) (string, error)
}

// IdentityResolver resolves a recipient id to delivery metadata.
// Implemented by client.UserClient.
type IdentityResolver interface {
	Resolve(ctx context.Context, recipientID string) (*client.RecipientIdentity, error)
}
