// Package whop sends direct messages through the Whop messaging API.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type directMessageRequest struct {
	ExperienceID string `json:"experience_id"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
}

// NewClient returns nil when the Whop API is not configured. A nil client
// drops messages silently.
func NewClient(cfg config.WhopConfig, log *logger.Logger) *Client {
	if !cfg.IsWhopEnabled() {
		return nil
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetWhopAPIURL(), "/"),
		apiKey:  cfg.GetWhopAPIKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *Client) SendDirectMessage(ctx context.Context, experienceID, userID, text string) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(directMessageRequest{
		ExperienceID: experienceID,
		UserID:       userID,
		Message:      text,
	})
	if err != nil {
		return fmt.Errorf("marshal whop payload: %w", err)
	}

	url := fmt.Sprintf("%s/messages/direct", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", formatAuthHeader(c.apiKey))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whop request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whop api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("whop direct message sent", "experience_id", experienceID, "whop_user_id", userID)
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
		return apiKey
	}
	return "Bearer " + apiKey
}
