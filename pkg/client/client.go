// Package client is a Go client for the registryd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentregistry/pkg/api"
	"agentregistry/pkg/domain"
)

// ErrNotFound is returned when a record or image does not exist.
var ErrNotFound = errors.New("not found")

// Outcome is the result of a submitted call.
type Outcome struct {
	ID         *uint32            `json:"id,omitempty"`
	Events     []domain.Event     `json:"events"`
	Violations []domain.Violation `json:"violations"`
}

// APIError is a non-2xx response. It unwraps to the matching domain
// sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case api.CodeNotRegistered:
		return domain.ErrNotRegistered
	case api.CodeAlreadyRegistered:
		return domain.ErrAlreadyRegistered
	case api.CodeFieldTooLarge:
		return domain.ErrFieldTooLarge
	case api.CodeInvalidArguments:
		return domain.ErrInvalidArguments
	case api.CodeUnknownOperation:
		return domain.ErrUnknownOperation
	case api.CodeExhausted:
		return domain.ErrIdentifierSpaceExhausted
	case api.CodeNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Client talks to one registryd instance on behalf of one principal.
type Client struct {
	baseURL    string
	principal  domain.Principal
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithPrincipal sets the identity sent with mutating requests.
func WithPrincipal(p domain.Principal) Option {
	return func(c *Client) { c.principal = p }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Principal returns the configured caller identity.
func (c *Client) Principal() domain.Principal { return c.principal }

// Call submits operation with args, which are JSON encoded unless already
// a json.RawMessage.
func (c *Client) Call(ctx context.Context, operation string, args any) (Outcome, error) {
	raw, ok := args.(json.RawMessage)
	if !ok {
		if args == nil {
			args = struct{}{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return Outcome{}, fmt.Errorf("encode args: %w", err)
		}
		raw = encoded
	}
	body, err := json.Marshal(api.CallRequest{Operation: operation, Args: raw})
	if err != nil {
		return Outcome{}, fmt.Errorf("encode call: %w", err)
	}
	var out Outcome
	err = c.do(ctx, http.MethodPost, "/api/v1/calls", "application/json", bytes.NewReader(body), true, &out)
	return out, err
}

// Register registers the client principal.
func (c *Client) Register(ctx context.Context) (Outcome, error) {
	return c.Call(ctx, "register", nil)
}

// Create submits create_<entity> and returns the allocated id.
func (c *Client) Create(ctx context.Context, entity domain.EntityType, record any) (uint32, Outcome, error) {
	out, err := c.Call(ctx, "create_"+string(entity), record)
	if err != nil {
		return 0, out, err
	}
	if out.ID == nil {
		return 0, out, fmt.Errorf("create_%s: response carried no id", entity)
	}
	return *out.ID, out, nil
}

// Update submits update_<entity> for id.
func (c *Client) Update(ctx context.Context, entity domain.EntityType, id uint32, record any) (Outcome, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil || fields == nil {
		return Outcome{}, fmt.Errorf("%w: record must encode as an object", domain.ErrInvalidArguments)
	}
	fields["id"] = json.RawMessage(fmt.Sprint(id))
	args, err := json.Marshal(fields)
	if err != nil {
		return Outcome{}, err
	}
	return c.Call(ctx, "update_"+string(entity), json.RawMessage(args))
}

// Delete submits delete_<entity> for id.
func (c *Client) Delete(ctx context.Context, entity domain.EntityType, id uint32) (Outcome, error) {
	return c.Call(ctx, "delete_"+string(entity), map[string]uint32{"id": id})
}

// Get decodes the record stored at id into out. It returns ErrNotFound
// when the id is vacant.
func (c *Client) Get(ctx context.Context, entity domain.EntityType, id uint32, out any) error {
	envelope := domain.Keyed[any]{Record: out}
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/entities/%s/%d", entity, id), "", nil, false, &envelope)
}

// List decodes every record of entity into out, which should point to a
// []domain.Keyed[R].
func (c *Client) List(ctx context.Context, entity domain.EntityType, out any) error {
	envelope := struct {
		Items any `json:"items"`
	}{Items: out}
	return c.do(ctx, http.MethodGet, "/api/v1/entities/"+string(entity), "", nil, false, &envelope)
}

// NextID peeks at the identifier the next create of entity would receive.
func (c *Client) NextID(ctx context.Context, entity domain.EntityType) (uint32, error) {
	var out struct {
		NextID uint32 `json:"next_id"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/entities/"+string(entity)+"/next-id", "", nil, false, &out)
	return out.NextID, err
}

// IsRegistered reports whether p has registered.
func (c *Client) IsRegistered(ctx context.Context, p domain.Principal) (bool, error) {
	var out api.AgentStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+p.Hex(), "", nil, false, &out)
	return out.Registered, err
}

// ListAgents returns every registered principal.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Principal, error) {
	var out struct {
		Agents []domain.Principal `json:"agents"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/agents", "", nil, false, &out)
	return out.Agents, err
}

// Operations lists the operation names the server dispatches.
func (c *Client) Operations(ctx context.Context) ([]string, error) {
	var out struct {
		Operations []string `json:"operations"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/operations", "", nil, false, &out)
	return out.Operations, err
}

// PutImage uploads image bytes and returns their content hash.
func (c *Client) PutImage(ctx context.Context, body []byte, contentType string) (domain.ContentHash, error) {
	var out api.ImageResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/images", contentType, bytes.NewReader(body), true, &out)
	return out.Hash, err
}

// GetImage downloads the image stored for hash.
func (c *Client) GetImage(ctx context.Context, hash domain.ContentHash) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/v1/images/"+hash.Hex(), "", nil, false)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, asCaller bool, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body, asCaller)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// send performs the request and converts non-2xx responses to *APIError.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, asCaller bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if asCaller {
		req.Header.Set(api.PrincipalHeader, c.principal.Hex())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var decoded api.ErrorResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Code != "" {
		apiErr.Code = decoded.Code
		apiErr.Message = decoded.Error
	}
	return nil, apiErr
}
