package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/client"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

func nopLogger() *zap.Logger {
	return zap.NewNop()
}

// fakeStore is an in-memory MessageStore used across the service tests.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message

	saveErr       error
	findActiveErr error
	deleteManyErr error
	updateErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*model.Message)}
}

func (f *fakeStore) Save(_ context.Context, m *model.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ID] = m
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || !m.IsActive {
		return nil, model.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) FindActive(_ context.Context) ([]*model.Message, error) {
	if f.findActiveErr != nil {
		return nil, f.findActiveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, m := range f.messages {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) FindActiveForRecipient(_ context.Context, recipientID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, m := range f.messages {
		if m.IsActive && m.StateFor(recipientID) != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRecipientState(_ context.Context, messageID, recipientID string, state *model.RecipientState) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || !m.IsActive {
		return model.ErrNotFound
	}
	m.Recipients[recipientID] = state
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) DeleteMany(_ context.Context, ids []string) (int, error) {
	if f.deleteManyErr != nil {
		return 0, f.deleteManyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := f.messages[id]; ok {
			delete(f.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	retired := 0
	for _, m := range f.messages {
		if m.IsActive && m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			m.IsActive = false
			retired++
		}
	}
	return retired, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// pubEvent is one recorded realtime push.
type pubEvent struct {
	recipientID string
	event       string
}

// fakePublisher records pushes and can be told to fail a given event name or
// every push after the first n.
type fakePublisher struct {
	mu        sync.Mutex
	events    []pubEvent
	failEvent string
	failAfter int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failAfter: -1}
}

func (f *fakePublisher) Publish(_ context.Context, recipientID, event string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvent != "" && event == f.failEvent {
		return fmt.Errorf("injected failure for %s", event)
	}
	if f.failAfter >= 0 && len(f.events) >= f.failAfter {
		return fmt.Errorf("injected failure after %d pushes", f.failAfter)
	}
	f.events = append(f.events, pubEvent{recipientID: recipientID, event: event})
	return nil
}

func (f *fakePublisher) eventsNamed(name string) []pubEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pubEvent
	for _, e := range f.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeMailer simulates the SMTP channel with an optional artificial delay.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []model.EmailRequest
	delay time.Duration
	err   error
}

func (f *fakeMailer) Send(req model.EmailRequest) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return fmt.Sprintf("email-%d", len(f.sent)), nil
}

// fakeCountsCache is an in-memory countsCache.
type fakeCountsCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCountsCache() *fakeCountsCache {
	return &fakeCountsCache{entries: make(map[string][]byte)}
}

func (f *fakeCountsCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	if !ok {
		return nil, fmt.Errorf("cache miss for %s", key)
	}
	return v, nil
}

func (f *fakeCountsCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return nil
}

func (f *fakeCountsCache) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeCountsCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

// fakeIdentity resolves every recipient to a deterministic address.
type fakeIdentity struct {
	err error
}

func (f *fakeIdentity) Resolve(_ context.Context, recipientID string) (*client.RecipientIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &client.RecipientIdentity{
		ID:          recipientID,
		Email:       recipientID + "@example.org",
		DisplayName: "User " + recipientID,
	}, nil
}

func testConfigManager() *config.Manager {
	return config.NewManager(config.EngineConfig{
		EmailTimeout:      2 * time.Second,
		PushTimeout:       time.Second,
		RetentionLowDays:  90,
		RetentionMedDays:  160,
		RetentionHighDays: 240,
		RetentionReadDays: 60,
		BreakerCooldown:   time.Minute,
		CleanupBatchSize:  500,
		UnreadCacheTTL:    30 * time.Second,
	}, nopLogger())
}
