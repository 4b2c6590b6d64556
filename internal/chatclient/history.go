// Package chatclient is the client side of realtime messaging: a managed
// STOMP connection, the per-conversation delivery stream and the session
// that combines history with realtime arrivals.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adoptme/internal/domain/entity"
	"adoptme/pkg/errors"
	"adoptme/pkg/response"
)

const defaultHTTPTimeout = 30 * time.Second

// HistoryFetcher loads the stored messages between two users, oldest first.
type HistoryFetcher interface {
	Conversation(ctx context.Context, user1, user2 int64) ([]entity.Message, error)
}

type apiClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

type APIOption func(*apiClient)

// WithHTTPClient replaces the default client with its 30s timeout.
func WithHTTPClient(client *http.Client) APIOption {
	return func(c *apiClient) {
		c.httpClient = client
	}
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) APIOption {
	return func(c *apiClient) {
		c.token = token
	}
}

func newAPIClient(baseURL string, opts []APIOption) apiClient {
	c := apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// get issues a GET against path and decodes the envelope's data into out.
func (c *apiClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env response.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return errors.New(errors.CodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode, nil)
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		if env.Error != nil {
			return errors.New(env.Error.Code, env.Error.Message, resp.StatusCode, nil)
		}
		return errors.New(errors.CodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode, nil)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

// HistoryClient reads conversation history from the chat API.
type HistoryClient struct {
	api apiClient
}

// NewHistoryClient targets baseURL, the API root such as http://host/api.
func NewHistoryClient(baseURL string, opts ...APIOption) *HistoryClient {
	return &HistoryClient{api: newAPIClient(baseURL, opts)}
}

func (c *HistoryClient) Conversation(ctx context.Context, user1, user2 int64) ([]entity.Message, error) {
	query := url.Values{}
	query.Set("user1", strconv.FormatInt(user1, 10))
	query.Set("user2", strconv.FormatInt(user2, 10))

	messages := make([]entity.Message, 0)
	if err := c.api.get(ctx, "/chat/conversation", query, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// InboxClient reads the authenticated user's conversation summaries.
type InboxClient struct {
	api apiClient
}

func NewInboxClient(baseURL string, opts ...APIOption) *InboxClient {
	return &InboxClient{api: newAPIClient(baseURL, opts)}
}

func (c *InboxClient) Inbox(ctx context.Context) ([]entity.ConversationSummary, error) {
	inbox := make([]entity.ConversationSummary, 0)
	if err := c.api.get(ctx, "/chat/inbox", nil, &inbox); err != nil {
		return nil, err
	}
	return inbox, nil
}
