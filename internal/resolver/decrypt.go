package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DecryptClient calls the decryption collaborator
type DecryptClient struct {
	url        string
	httpClient *http.Client
}

// NewDecryptClient creates a client for the endpoint at url
func NewDecryptClient(url string, timeout time.Duration) *DecryptClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DecryptClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type decryptRequest struct {
	Text string `json:"text"`
}

type decryptResponse struct {
	Success       bool   `json:"success"`
	DecryptedText string `json:"decryptedText"`
	Message       string `json:"message,omitempty"`
}

// Decrypt returns the plaintext parameter bundle for token
func (c *DecryptClient) Decrypt(ctx context.Context, token string) (string, error) {
	body, err := json.Marshal(decryptRequest{Text: token})
	if err != nil {
		return "", fmt.Errorf("failed to encode decrypt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("decrypt service error (status %d)", resp.StatusCode)
	}

	var out decryptResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse decrypt response: %w", err)
	}
	if !out.Success {
		if out.Message != "" {
			return "", fmt.Errorf("decrypt rejected: %s", out.Message)
		}
		return "", fmt.Errorf("decrypt rejected")
	}
	if out.DecryptedText == "" {
		return "", fmt.Errorf("decrypt returned an empty bundle")
	}
	return out.DecryptedText, nil
}
