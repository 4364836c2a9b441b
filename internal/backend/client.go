// Package backend is the HTTP client for the remote card store that runs OCR
// extraction and persists cards.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/entity"
)

const (
	defaultListTimeout   = 20 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultUploadTimeout = 120 * time.Second
)

// Store is the set of card operations offered by the backend.
type Store interface {
	ListAll(ctx context.Context) ([]entity.Card, error)
	Create(ctx context.Context, fields map[string]any) (*entity.Card, error)
	Upload(ctx context.Context, filename string, image io.Reader) (*entity.Card, error)
	Update(ctx context.Context, id any, changes map[string]any) error
	Delete(ctx context.Context, id any) error
}

// Client talks to the card backend. Every call runs under a finite timeout and
// every failure, transport or application, comes back as an error value.
type Client struct {
	client        *http.Client
	baseURL       string
	listTimeout   time.Duration
	writeTimeout  time.Duration
	uploadTimeout time.Duration
	maxRetries    int
	logger        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeouts overrides the per-operation timeouts; non-positive values keep the default.
func WithTimeouts(list, write, upload time.Duration) Option {
	return func(c *Client) {
		if list > 0 {
			c.listTimeout = list
		}
		if write > 0 {
			c.writeTimeout = write
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// WithMaxRetries enables bounded retries with jittered exponential backoff.
// Only transport failures are retried; a response with any status is final.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the logger used for soft warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a backend client. A nil http.Client gets a plain client;
// timeouts are applied per call through the request context.
func NewClient(client *http.Client, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		panic("backend baseURL must not be empty")
	}
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{
		client:        client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		listTimeout:   defaultListTimeout,
		writeTimeout:  defaultWriteTimeout,
		uploadTimeout: defaultUploadTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns an ID-token authenticated client for service-to-service
// calls when requested and available, otherwise a plain client.
func NewHTTPClient(ctx context.Context, baseURL string, useIDToken bool) *http.Client {
	if useIDToken {
		if idc, err := idtoken.NewClient(ctx, strings.TrimRight(baseURL, "/")); err == nil {
			return idc
		}
	}
	return &http.Client{}
}

// ListAll fetches the full collection. On failure it returns an empty slice
// alongside the error.
func (c *Client) ListAll(ctx context.Context) ([]entity.Card, error) {
	const op = "list cards"
	resp, err := c.send(ctx, op, c.listTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/all_cards", nil)
	})
	if err != nil {
		return []entity.Card{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return []entity.Card{}, &StatusError{Op: op, StatusCode: resp.status, Message: extractError(resp.status, resp.body)}
	}

	data, ok, err := dataField(resp.body)
	if err != nil {
		return []entity.Card{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !ok {
		c.logger.Warn("backend returned success without data payload", zap.String("op", op))
		return []entity.Card{}, nil
	}

	var cards []entity.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return []entity.Card{}, &TransportError{Op: op, Err: fmt.Errorf("decode cards: %w", err)}
	}
	if cards == nil {
		cards = []entity.Card{}
	}
	return cards, nil
}

// Create stores a manually entered card. The payload is sanitized first. A
// nil card with a nil error means the backend accepted the write but sent no
// data back.
func (c *Client) Create(ctx context.Context, fields map[string]any) (*entity.Card, error) {
	const op = "create card"
	body, err := json.Marshal(codec.SanitizePayload(fields))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := c.send(ctx, op, c.writeTimeout, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPost, c.baseURL+"/create_card", body)
	})
	if err != nil {
		return nil, err
	}
	return c.decodeCard(op, resp, http.StatusOK, http.StatusCreated)
}

// Upload sends a card image for extraction and storage.
func (c *Client) Upload(ctx context.Context, filename string, image io.Reader) (*entity.Card, error) {
	const op = "upload card"
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	body := buf.Bytes()
	contentType := writer.FormDataContentType()

	resp, err := c.send(ctx, op, c.uploadTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_card", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	return c.decodeCard(op, resp, http.StatusOK, http.StatusCreated)
}

// Update applies a partial update to one card. A change set that is empty
// after sanitizing is rejected with ErrEmptyUpdate without a request.
func (c *Client) Update(ctx context.Context, id any, changes map[string]any) error {
	const op = "update card"
	cardID := codec.IDString(id)
	if cardID == "" {
		return fmt.Errorf("%s: missing card id", op)
	}
	payload := codec.SanitizePayload(changes)
	if len(payload) == 0 {
		return fmt.Errorf("%s %s: %w", op, cardID, ErrEmptyUpdate)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := c.send(ctx, op, c.writeTimeout, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodPatch, c.baseURL+"/update_card/"+url.PathEscape(cardID), body)
	})
	if err != nil {
		return err
	}
	return expectStatus(op, resp, http.StatusOK, http.StatusCreated)
}

// Delete removes one card.
func (c *Client) Delete(ctx context.Context, id any) error {
	const op = "delete card"
	cardID := codec.IDString(id)
	if cardID == "" {
		return fmt.Errorf("%s: missing card id", op)
	}

	resp, err := c.send(ctx, op, c.writeTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/delete_card/"+url.PathEscape(cardID), nil)
	})
	if err != nil {
		return err
	}
	return expectStatus(op, resp, http.StatusOK, http.StatusNoContent)
}

type response struct {
	status int
	body   []byte
}

// send performs one logical call. The request is rebuilt for every attempt and
// each attempt gets its own timeout. Any received response ends the loop.
func (c *Client) send(ctx context.Context, op string, timeout time.Duration, build func(context.Context) (*http.Request, error)) (*response, error) {
	attempt := func() (*response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := build(attemptCtx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if rid := RequestIDFromContext(ctx); rid != "" {
			req.Header.Set("X-Request-ID", rid)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return &response{status: resp.StatusCode, body: body}, nil
	}

	var (
		resp *response
		err  error
	)
	if c.maxRetries == 0 {
		resp, err = attempt()
	} else {
		resp, err = backoff.Retry(ctx, attempt,
			backoff.WithBackOff(newBackOff()),
			backoff.WithMaxTries(uint(c.maxRetries+1)),
			backoff.WithNotify(func(err error, wait time.Duration) {
				c.logger.Warn("backend call failed, retrying",
					zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
			}),
		)
	}
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func (c *Client) decodeCard(op string, resp *response, ok ...int) (*entity.Card, error) {
	if err := expectStatus(op, resp, ok...); err != nil {
		return nil, err
	}

	data, present, err := dataField(resp.body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !present {
		c.logger.Warn("backend returned success without data payload", zap.String("op", op))
		return nil, nil
	}

	var card entity.Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode card: %w", err)}
	}
	return &card, nil
}

func expectStatus(op string, resp *response, ok ...int) error {
	for _, code := range ok {
		if resp.status == code {
			return nil
		}
	}
	return &StatusError{Op: op, StatusCode: resp.status, Message: extractError(resp.status, resp.body)}
}

// dataField extracts the "data" member of the response envelope. A missing or
// null member is reported as absent rather than as an error.
func dataField(body []byte) (json.RawMessage, bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, err
	}
	data, ok := envelope["data"]
	if !ok || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, false, nil
	}
	return data, true, nil
}

func jsonRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

var _ Store = (*Client)(nil)
