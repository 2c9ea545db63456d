package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrRateLimited degrades the caller to its deterministic fallback; the
	// run continues.
	ErrRateLimited = errors.New("assistant rate limited")
	// ErrEmptyResponse is a hard error; an assistant that answers with
	// nothing is misconfigured, not overloaded.
	ErrEmptyResponse = errors.New("assistant returned empty response")
)

// Client calls an OpenAI-compatible chat-completions endpoint. Temperature is
// pinned to zero and responses must be strict JSON; both exist solely to make
// assistant output reproducible.
type Client struct {
	apiKey     string
	baseURL    string
	modelName  string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, modelName string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		modelName:  modelName,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Enabled reports whether an external assistant is configured at all. When
// false every use case runs on its deterministic fallback.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Complete sends one system+user exchange and decodes the JSON reply into
// out.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPayload string, out interface{}) error {
	payload := map[string]interface{}{
		"model": c.modelName,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPayload},
		},
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling assistant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assistant returned status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding assistant envelope: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return ErrEmptyResponse
	}

	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("assistant reply is not valid JSON for the expected schema: %w", err)
	}
	return nil
}
