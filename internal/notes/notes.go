// Package notes saves journal entries through the notes HTTP API. The server
// is idempotent on message_id: posting the same id again updates the note.
package notes

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

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
)

const (
	PathNotes    = "/notes"
	PathFoodLogs = "/food-logs"

	StatusCreated = "created"
	StatusUpdated = "updated"
)

// ErrInvalidResponse is returned when the answer lacks status or note_id.
var ErrInvalidResponse = errors.New("invalid API response format")

// StatusError reports a non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed: %d", e.Code)
}

// Note is one journal message.
type Note struct {
	ChatID    int64
	MessageID int
	Text      string
	// Created is the original message date; Updated is when it was handled.
	// APIClient does not send them, the notes API dates notes itself. They are
	// kept for other Store implementations and for logs.
	Created time.Time
	Updated time.Time
}

// CompositeID identifies the note across chats.
func (n Note) CompositeID() string {
	return fmt.Sprintf("%d_%d", n.ChatID, n.MessageID)
}

// Result is the server's answer.
type Result struct {
	Status    string
	NoteID    string
	MessageID string
}

// Store saves notes.
type Store interface {
	SaveNote(ctx context.Context, n Note) (Result, error)
}

// Opts configures an APIClient.
type Opts struct {
	BaseURL string
	Token   string
	// Path is PathNotes or PathFoodLogs.
	Path    string
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// APIClient is the HTTP Store.
type APIClient struct {
	endpoint string
	token    string
	hc       *http.Client
}

var _ Store = (*APIClient)(nil)

// NewAPIClient returns a client posting to BaseURL+Path.
func NewAPIClient(opts Opts) *APIClient {
	if opts.Path == "" {
		opts.Path = PathNotes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &APIClient{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + opts.Path,
		token:    opts.Token,
		hc:       hc,
	}
}

type saveRequest struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type saveResponse struct {
	Status *string          `json:"status"`
	NoteID *json.RawMessage `json:"note_id"`
}

// SaveNote creates or updates the note. Dates are managed by the server.
func (c *APIClient) SaveNote(ctx context.Context, n Note) (Result, error) {
	id := n.CompositeID()
	body, err := json.Marshal(saveRequest{MessageID: id, Text: n.Text})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	log := logging.Ctx(ctx)
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.ObserveVendorCall("notes_api", "save", start, err)
		log.Error().Err(err).Str("endpoint", c.endpoint).Msg("notes API request error")
		return Result{}, fmt.Errorf("API request error: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Body: string(raw)}
		metrics.ObserveVendorCall("notes_api", "save", start, serr)
		log.Error().Int("status", resp.StatusCode).Str("body", logging.Snippet(string(raw), 200)).Msg("notes API request failed")
		return Result{}, serr
	}

	var out saveResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Status == nil || out.NoteID == nil {
		metrics.ObserveVendorCall("notes_api", "save", start, ErrInvalidResponse)
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidResponse, logging.Snippet(string(raw), 200))
	}
	metrics.ObserveVendorCall("notes_api", "save", start, nil)

	res := Result{Status: *out.Status, NoteID: rawID(*out.NoteID), MessageID: id}
	log.Info().Str("event", "note_saved").Str("message_id", id).Str("status", res.Status).Str("note_id", res.NoteID).Msg("note saved")
	return res, nil
}

// rawID accepts note ids sent as strings or numbers.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
