// Package discord implements the presentation layer against the Discord REST
// API. Settlement results are posted as embeds and expired battle
// announcements are deleted; all of it is best-effort from the engines'
// point of view.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// embedColor is the accent colour used for result embeds.
const embedColor = 0x00b0f4

var _ domain.Presenter = (*Client)(nil)

// Client is a minimal Discord REST client authenticated with a bot token.
type Client struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
}

// NewClient creates a Discord client.
//
// baseURL is the API root, e.g. "https://discord.com/api/v10".
func NewClient(baseURL, botToken string) *Client {
	return &Client{
		baseURL:  baseURL,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// embed mirrors the subset of Discord's embed object we produce.
type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// messagePayload is the body for the create-message endpoint.
type messagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

// PostResult posts a settlement result embed to a channel. The notice's user
// ID, when set, is rendered as a mention above the embed so the participant
// gets pinged.
func (c *Client) PostResult(ctx context.Context, channelID string, result domain.SettlementNotice) error {
	payload := messagePayload{
		Embeds: []embed{{
			Title:       result.Title,
			Description: strings.Join(result.Lines, "\n"),
			Color:       embedColor,
		}},
	}
	if result.UserID != "" {
		payload.Content = fmt.Sprintf("<@%s>", result.UserID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal message: %w", err)
	}

	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, body)
}

// DeleteMessage removes a message, used to take down the announcement of a
// battle that expired unjoined.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s",
		url.PathEscape(channelID), url.PathEscape(messageID))
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do executes one authenticated request and checks for a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: %s %s: unexpected status %d: %s",
			method, path, resp.StatusCode, string(respBody))
	}

	return nil
}
