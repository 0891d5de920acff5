package httpkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pushpaanand/teleconsult/internal/models"
)

// APIClient handles the REST side of the hosted room service
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a client that authenticates with the given kit token
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

type participantPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type joinResponse struct {
	SessionID string `json:"session_id"`
}

type participantsResponse struct {
	Participants []participantPayload `json:"participants"`
}

// AddParticipant registers the local participant in the room and returns the event stream id
func (c *APIClient) AddParticipant(ctx context.Context, room, userID, userName string) (string, error) {
	body, err := json.Marshal(participantPayload{UserID: userID, UserName: userName})
	if err != nil {
		return "", fmt.Errorf("failed to encode join request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.participantsURL(room), body)
	if err != nil {
		return "", err
	}

	var resp joinResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to parse join response: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("join response carried no session id")
	}
	return resp.SessionID, nil
}

// ListParticipants fetches the current room membership
func (c *APIClient) ListParticipants(ctx context.Context, room string) ([]models.Participant, error) {
	data, err := c.do(ctx, http.MethodGet, c.participantsURL(room), nil)
	if err != nil {
		return nil, err
	}

	var resp participantsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse participants response: %w", err)
	}

	participants := make([]models.Participant, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		participants = append(participants, models.Participant{ID: p.UserID, Name: p.UserName})
	}
	return participants, nil
}

// RemoveParticipant takes the participant out of the room
func (c *APIClient) RemoveParticipant(ctx context.Context, room, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.participantsURL(room)+"/"+url.PathEscape(userID), nil)
	return err
}

// EventsURL is the SSE endpoint of the room
func (c *APIClient) EventsURL(room string) string {
	return fmt.Sprintf("%s/rooms/%s/events", c.baseURL, url.PathEscape(room))
}

func (c *APIClient) participantsURL(room string) string {
	return fmt.Sprintf("%s/rooms/%s/participants", c.baseURL, url.PathEscape(room))
}

func (c *APIClient) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("room service error (status %d): %s", resp.StatusCode, string(data))
	}
	return data, nil
}
