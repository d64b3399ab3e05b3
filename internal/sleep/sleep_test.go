package sleep

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telegram-assistant-bots/internal/storage"
)

type fakeBackend struct {
	mu        sync.Mutex
	healthy   bool
	submitErr error
	submitted []Entry
	history   []Entry
	updated   []Entry
}

func (f *fakeBackend) Submit(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, e)
	return nil
}

func (f *fakeBackend) History(ctx context.Context, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return nil, errors.New("down")
	}
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeBackend) UpdateEntry(ctx context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, e)
	return nil
}

func (f *fakeBackend) Healthy(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func fixedClock(t *Tracker, start time.Time) {
	n := 0
	t.now = func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

func TestRecordOfflineQueues(t *testing.T) {
	fb := &fakeBackend{}
	tr := NewTracker(fb)
	e, offline := tr.Record(context.Background(), 1, "morning", 3)
	require.False(t, offline)
	require.Equal(t, ClientName, e.Client)
	require.Equal(t, 1, tr.PendingCount())
	require.Empty(t, fb.submitted)
}

func TestRecordOnlineSubmits(t *testing.T) {
	fb := &fakeBackend{healthy: true}
	tr := NewTracker(fb)
	_, changed := tr.CheckHealth(context.Background())
	require.True(t, changed)

	_, offline := tr.Record(context.Background(), 1, "on-demand", 2)
	require.False(t, offline)
	require.Len(t, fb.submitted, 1)
	require.Zero(t, tr.PendingCount())

	fb.submitErr = errors.New("500")
	_, offline = tr.Record(context.Background(), 1, "on-demand", 4)
	require.True(t, offline)
	require.Equal(t, 1, tr.PendingCount())
}

func TestCheckHealthReportsChanges(t *testing.T) {
	fb := &fakeBackend{}
	tr := NewTracker(fb)
	avail, changed := tr.CheckHealth(context.Background())
	require.False(t, avail)
	require.False(t, changed)

	fb.healthy = true
	avail, changed = tr.CheckHealth(context.Background())
	require.True(t, avail)
	require.True(t, changed)

	_, changed = tr.CheckHealth(context.Background())
	require.False(t, changed)
}

func TestSyncAndFlush(t *testing.T) {
	fb := &fakeBackend{}
	tr := NewTracker(fb)
	tr.Record(context.Background(), 1, "morning", 1)
	tr.Record(context.Background(), 1, "afternoon", 2)

	fb.submitErr = errors.New("down")
	synced, failed := tr.Sync(context.Background())
	require.Equal(t, 0, synced)
	require.Equal(t, 2, failed)

	fb.submitErr = nil
	synced, failed = tr.Sync(context.Background())
	require.Equal(t, 2, synced)
	require.Equal(t, 0, failed)
	require.Zero(t, tr.PendingCount())

	tr.Record(context.Background(), 1, "morning", 1)
	require.Equal(t, 1, tr.Flush(context.Background()))
	require.Zero(t, tr.PendingCount())
}

func TestAddNote(t *testing.T) {
	fb := &fakeBackend{healthy: true}
	tr := NewTracker(fb)
	require.ErrorIs(t, tr.AddNote(context.Background(), 1, "x"), ErrNoLastEntry)

	// pending entry is updated locally
	e, _ := tr.Record(context.Background(), 1, "morning", 3)
	require.NoError(t, tr.AddNote(context.Background(), 1, "tired"))
	require.Equal(t, "tired", tr.Status().Pending[0].NotesOrNA())
	require.Empty(t, fb.updated)

	// submitted entry is updated on the backend
	tr.CheckHealth(context.Background())
	e, _ = tr.Record(context.Background(), 2, "afternoon", 2)
	fb.history = []Entry{e}
	require.NoError(t, tr.AddNote(context.Background(), 2, "after lunch"))
	require.Len(t, fb.updated, 1)
	require.Equal(t, "after lunch", *fb.updated[0].Notes)

	fb.history = nil
	require.ErrorIs(t, tr.AddNote(context.Background(), 2, "again"), ErrEntryNotFound)
}

func TestHistoryMergesNewestFirst(t *testing.T) {
	fb := &fakeBackend{}
	tr := NewTracker(fb)
	fixedClock(tr, time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC))

	p1, _ := tr.Record(context.Background(), 1, "morning", 1)
	fb.healthy = true
	fb.history = []Entry{{ID: "k1", Timestamp: "2024-01-01T06:00:00.000000", CheckinType: "morning", Rating: 2}}
	tr.CheckHealth(context.Background())

	view := tr.History(context.Background(), 5)
	require.NoError(t, view.BackendErr)
	require.Len(t, view.Entries, 2)
	require.Equal(t, p1.ID, view.Entries[0].ID)
	require.True(t, view.Pending[p1.ID])
	require.Equal(t, 1, view.PendingCount)

	fb.healthy = false
	view = tr.History(context.Background(), 5)
	require.Error(t, view.BackendErr)
	require.Len(t, view.Entries, 2)
}

func TestCachePersistsAcrossRestarts(t *testing.T) {
	require.NoError(t, storage.Init(filepath.Join(t.TempDir(), "sleep.db")))
	t.Cleanup(func() { storage.Close() })

	fb := &fakeBackend{}
	tr := NewTracker(fb)
	e, _ := tr.Record(context.Background(), 9, "morning", 4)

	restarted := NewTracker(fb)
	require.Equal(t, 1, restarted.PendingCount())
	require.NoError(t, restarted.AddNote(context.Background(), 9, "slept badly"))
	require.Equal(t, e.ID, restarted.Status().Pending[0].ID)

	fb.healthy = true
	restarted.Sync(context.Background())
	again := NewTracker(fb)
	require.Zero(t, again.PendingCount())
}

func TestBackendHTTP(t *testing.T) {
	var gotSubmit, gotPut Entry
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSubmit))
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]Entry{{ID: "a", Rating: 1}})
	})
	mux.HandleFunc("/entry/a", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPut))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBackend(srv.URL+"/", nil)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, Entry{ID: "a", Client: ClientName}))
	require.Equal(t, "a", gotSubmit.ID)

	hist, err := b.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, hist, 1)

	note := "n"
	require.NoError(t, b.UpdateEntry(ctx, Entry{ID: "a", Notes: &note}))
	require.Equal(t, "n", *gotPut.Notes)

	err = b.UpdateEntry(ctx, Entry{ID: "missing"})
	require.ErrorContains(t, err, "backend error: 404")
	srv.Close()
	require.False(t, b.Healthy(ctx))
}
