// Package sleep records drowsiness check-ins against the sleep tracker
// backend, queueing them locally while the backend is unreachable.
package sleep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telegram-assistant-bots/internal/metrics"
)

// Entry is one check-in as the backend stores it.
type Entry struct {
	ID          string  `json:"id"`
	Timestamp   string  `json:"timestamp"`
	CheckinType string  `json:"checkin_type"`
	Rating      int     `json:"rating"`
	Notes       *string `json:"notes"`
	Client      string  `json:"client"`
}

// NotesOrNA returns the entry notes or "N/A".
func (e Entry) NotesOrNA() string {
	if e.Notes == nil || *e.Notes == "" {
		return "N/A"
	}
	return *e.Notes
}

// BackendAPI is the subset of the backend the tracker uses.
type BackendAPI interface {
	Submit(ctx context.Context, e Entry) error
	History(ctx context.Context, limit int) ([]Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error
	Healthy(ctx context.Context) bool
}

// Backend is the HTTP client for the sleep tracker service.
type Backend struct {
	base string
	hc   *http.Client
}

var _ BackendAPI = (*Backend)(nil)

// NewBackend returns a client for baseURL. A nil hc uses a 10s timeout client.
func NewBackend(baseURL string, hc *http.Client) *Backend {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Backend{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// Submit stores a new entry.
func (b *Backend) Submit(ctx context.Context, e Entry) error {
	return b.send(ctx, "submit", http.MethodPost, "/submit", e, nil)
}

// History returns the newest limit entries.
func (b *Backend) History(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := b.send(ctx, "history", http.MethodGet, fmt.Sprintf("/history?limit=%d", limit), nil, &out)
	return out, err
}

// UpdateEntry replaces an existing entry.
func (b *Backend) UpdateEntry(ctx context.Context, e Entry) error {
	return b.send(ctx, "update", http.MethodPut, "/entry/"+e.ID, e, nil)
}

// Healthy reports whether the history endpoint answers 200.
func (b *Backend) Healthy(ctx context.Context) bool {
	_, err := b.History(ctx, 1)
	return err == nil
}

func (b *Backend) send(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveVendorCall("sleep_backend", op, start, err) }()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend error: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}
