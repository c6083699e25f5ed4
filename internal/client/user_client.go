package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// UserClient resolves recipient ids against the User Service
type UserClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// RecipientIdentity represents delivery metadata for one recipient
type RecipientIdentity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// NewUserClient creates a new user service client
func NewUserClient(baseURL, serviceKey string, logger *zap.Logger) *UserClient {
	return &UserClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Resolve fetches the delivery identity for a recipient id
func (c *UserClient) Resolve(ctx context.Context, recipientID string) (*RecipientIdentity, error) {
	url := fmt.Sprintf("%s/api/v1/internal/users/%s", c.baseURL, recipientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Key", c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to resolve recipient",
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("recipient %s not found", recipientID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var identity RecipientIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}

	return &identity, nil
}
