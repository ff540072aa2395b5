// Package rest is the HTTP/JSON adapter to the hosted backend. One Client
// implements the backend snapshot, send, mark-read and directory
// collaborators; the push channel lives in the ws sibling package.
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

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/common"
)

const requestTimeout = 12 * time.Second

// Client talks to the backend REST API. Construct with New, then Login to
// obtain the bearer token used by all subsequent calls. Client implements
// backend.SnapshotFetcher, backend.Sender, backend.MarkReadRPC and
// backend.UserDirectory.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Token returns the current bearer token ("" before login). The ws adapter
// reuses it for the push socket handshake.
func (c *Client) Token() string { return c.token }

// User is the authenticated identity as returned by login/register.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/register", credentials{Email: email, Password: password, DisplayName: displayName}, &resp)
	if err != nil {
		return User{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/login", credentials{Email: email, Password: password}, &resp)
	if err != nil {
		return User{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

func (c *Client) FetchMessages(ctx context.Context, key models.ConversationKey, excludeThreadReplies bool) ([]models.MessageRow, error) {
	q := url.Values{"scope": {key.String()}}
	if excludeThreadReplies {
		q.Set("exclude_thread_replies", "1")
	}
	var rows []models.MessageRow
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) FetchThreadReplies(ctx context.Context, rootID string) ([]models.MessageRow, error) {
	q := url.Values{"thread_root": {rootID}}
	var rows []models.MessageRow
	if err := c.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) FetchUnread(ctx context.Context, userID string) ([]models.UnreadRecord, error) {
	var records []models.UnreadRecord
	if err := c.do(ctx, http.MethodGet, "/api/unread", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

type sendPayload struct {
	Scope          string             `json:"scope"`
	Content        string             `json:"content"`
	ThreadParentID string             `json:"thread_parent_id,omitempty"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, req backend.SendRequest) (string, error) {
	payload := sendPayload{
		Scope:          req.Conversation.String(),
		Content:        req.Content,
		ThreadParentID: req.ThreadParentID,
		CorrelationID:  req.CorrelationID,
		Attachment:     req.Attachment,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ResetUnread(ctx context.Context, userID string, key models.ConversationKey) error {
	payload := struct {
		Scope string `json:"scope"`
	}{Scope: key.String()}
	return c.do(ctx, http.MethodPost, "/api/unread/reset", payload, nil)
}

func (c *Client) LookupDisplayInfo(ctx context.Context, userID string) (models.Author, error) {
	var a models.Author
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, &a); err != nil {
		return models.Author{}, err
	}
	return a, nil
}

// do runs one JSON round trip and maps the HTTP status onto the shared
// error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, common.ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w: %s", method, path, err, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return common.ErrUnauthorized
	case code == http.StatusNotFound:
		return common.ErrNotFound
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return common.ErrValidation
	case code == http.StatusTooManyRequests:
		return common.ErrTransport
	default:
		return common.ErrTransport
	}
}
