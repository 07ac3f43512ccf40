package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client queries the room API: current state, membership and chat history.
// It also carries the best-effort leave beacon used at page-unload time.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a room API client.
// baseURL is the API root, e.g. "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// GetRoomState returns the room's current video/playback state.
func (c *Client) GetRoomState(ctx context.Context, roomID string) (*RoomStateResponse, error) {
	var resp RoomStateResponse
	if err := c.get(ctx, "/rooms/"+url.PathEscape(roomID)+"/state", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMembers returns the room's current membership.
func (c *Client) GetMembers(ctx context.Context, roomID string) (*MembersResponse, error) {
	var resp MembersResponse
	if err := c.get(ctx, "/rooms/"+url.PathEscape(roomID)+"/members", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessages retrieves chat history for a room with cursor-based
// pagination. limit caps the page size; a non-empty before cursor requests
// the page preceding it.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before string) (*MessagesResponse, error) {
	path := fmt.Sprintf("/rooms/%s/messages?limit=%d", url.PathEscape(roomID), limit)
	if before != "" {
		path += "&before=" + url.QueryEscape(before)
	}
	var resp MessagesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendLeaveBeacon posts a fire-and-forget LEAVE notification. It uses a
// short deadline of its own and reports nothing: at teardown time there is
// nobody left to consume a failure.
func (c *Client) SendLeaveBeacon(roomID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.post(ctx, "/rooms/"+url.PathEscape(roomID)+"/leave-beacon", LeaveBeacon{RoomID: roomID, UserID: userID}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
