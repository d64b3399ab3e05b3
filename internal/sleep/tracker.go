package sleep

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/storage"
)

const (
	ClientName = "telegram"

	// timestampLayout matches the backend's ISO timestamps.
	timestampLayout = "2006-01-02T15:04:05.000000"
	noteLookupLimit = 10
)

var (
	// ErrNoLastEntry means the chat has not recorded anything yet.
	ErrNoLastEntry = errors.New("no recent entry")
	// ErrEntryNotFound means the last entry is neither pending nor in recent history.
	ErrEntryNotFound = errors.New("entry not found")
)

// Tracker combines the backend with the offline cache.
type Tracker struct {
	backend BackendAPI
	now     func() time.Time

	mu        sync.Mutex
	available bool
	pending   []Entry
	known     []Entry
	lastEntry map[int64]string
}

// NewTracker builds a tracker and restores any persisted cache.
func NewTracker(backend BackendAPI) *Tracker {
	t := &Tracker{backend: backend, now: time.Now, lastEntry: make(map[int64]string)}
	t.restore()
	return t
}

func (t *Tracker) restore() {
	if !storage.Ready() {
		return
	}
	if raw, err := storage.LoadPending(); err == nil {
		t.pending = decodeEntries(raw)
		sort.SliceStable(t.pending, func(i, j int) bool { return t.pending[i].Timestamp < t.pending[j].Timestamp })
	} else {
		logging.Log.Error().Err(err).Msg("load pending sleep entries")
	}
	if raw, err := storage.LoadKnown(); err == nil {
		t.known = decodeEntries(raw)
	} else {
		logging.Log.Error().Err(err).Msg("load known sleep entries")
	}
}

func decodeEntries(raw [][]byte) []Entry {
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal(r, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// NewEntry builds an entry stamped with the current time.
func (t *Tracker) NewEntry(checkinType string, rating int) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Timestamp:   t.now().Format(timestampLayout),
		CheckinType: checkinType,
		Rating:      rating,
		Client:      ClientName,
	}
}

// Available reports the last known backend state.
func (t *Tracker) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// Record submits a new check-in, queueing it when the backend is down or
// rejects it. offline reports a failed submit that fell back to the queue.
func (t *Tracker) Record(ctx context.Context, chatID int64, checkinType string, rating int) (e Entry, offline bool) {
	e = t.NewEntry(checkinType, rating)
	t.setLastEntry(ctx, chatID, e.ID)

	if t.Available() {
		err := t.backend.Submit(ctx, e)
		if err == nil {
			logging.Ctx(ctx).Debug().Str("entry_id", e.ID).Msg("entry submitted to backend")
			return e, false
		}
		logging.Ctx(ctx).Error().Err(err).Msg("submit entry")
		t.addPending(ctx, e)
		return e, true
	}
	t.addPending(ctx, e)
	return e, false
}

func (t *Tracker) setLastEntry(ctx context.Context, chatID int64, id string) {
	t.mu.Lock()
	t.lastEntry[chatID] = id
	t.mu.Unlock()
	if storage.Ready() {
		if err := storage.SetLastEntry(chatID, id); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("store last entry")
		}
	}
}

func (t *Tracker) lastEntryID(chatID int64) (string, bool) {
	t.mu.Lock()
	id, ok := t.lastEntry[chatID]
	t.mu.Unlock()
	if ok {
		return id, true
	}
	if storage.Ready() {
		if id, err := storage.LastEntry(chatID); err == nil {
			return id, true
		}
	}
	return "", false
}

func (t *Tracker) addPending(ctx context.Context, e Entry) {
	t.mu.Lock()
	t.pending = append(t.pending, e)
	n := len(t.pending)
	t.mu.Unlock()
	t.persistPending(ctx, e)
	logging.Ctx(ctx).Debug().Int("pending", n).Msg("entry stored in memory cache")
}

func (t *Tracker) persistPending(ctx context.Context, e Entry) {
	if !storage.Ready() {
		return
	}
	data, _ := json.Marshal(e)
	if err := storage.SavePending(e.ID, data); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("persist pending entry")
	}
}

// AddNote sets the notes of the chat's last entry. Pending entries are
// updated locally; others are fetched from recent history and updated on the
// backend.
func (t *Tracker) AddNote(ctx context.Context, chatID int64, text string) error {
	id, ok := t.lastEntryID(chatID)
	if !ok {
		return ErrNoLastEntry
	}

	t.mu.Lock()
	idx := lo.IndexOf(lo.Map(t.pending, func(e Entry, _ int) string { return e.ID }), id)
	if idx >= 0 {
		t.pending[idx].Notes = &text
		e := t.pending[idx]
		t.mu.Unlock()
		t.persistPending(ctx, e)
		return nil
	}
	t.mu.Unlock()

	entries, err := t.backend.History(ctx, noteLookupLimit)
	if err != nil {
		return err
	}
	e, found := lo.Find(entries, func(e Entry) bool { return e.ID == id })
	if !found {
		return ErrEntryNotFound
	}
	e.Notes = &text
	return t.backend.UpdateEntry(ctx, e)
}

// HistoryView is a merged listing of pending and known entries.
type HistoryView struct {
	Entries []Entry
	// Pending holds the ids of entries not yet synced.
	Pending      map[string]bool
	PendingCount int
	// BackendErr is set when refreshing from the backend failed.
	BackendErr error
}

// History refreshes known entries when the backend is up and returns the
// newest limit entries, pending ones included.
func (t *Tracker) History(ctx context.Context, limit int) HistoryView {
	var view HistoryView
	if t.Available() {
		entries, err := t.backend.History(ctx, limit)
		if err != nil {
			view.BackendErr = err
		} else {
			t.replaceKnown(ctx, entries)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	all := append(append([]Entry(nil), t.pending...), t.known...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp > all[j].Timestamp })
	if len(all) > limit {
		all = all[:limit]
	}
	view.Entries = all
	view.Pending = lo.SliceToMap(t.pending, func(e Entry) (string, bool) { return e.ID, true })
	view.PendingCount = len(t.pending)
	return view
}

func (t *Tracker) replaceKnown(ctx context.Context, entries []Entry) {
	t.mu.Lock()
	t.known = entries
	t.mu.Unlock()
	if !storage.Ready() {
		return
	}
	raw := lo.Map(entries, func(e Entry, _ int) []byte {
		data, _ := json.Marshal(e)
		return data
	})
	if err := storage.ReplaceKnown(raw); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("persist known entries")
	}
}

// Sync submits pending entries and drops the ones the backend accepted.
func (t *Tracker) Sync(ctx context.Context) (synced, failed int) {
	t.mu.Lock()
	todo := append([]Entry(nil), t.pending...)
	t.mu.Unlock()

	done := make(map[string]bool)
	for _, e := range todo {
		if err := t.backend.Submit(ctx, e); err != nil {
			failed++
			logging.Ctx(ctx).Error().Err(err).Str("entry_id", e.ID).Msg("sync entry")
			continue
		}
		done[e.ID] = true
		synced++
		if storage.Ready() {
			if err := storage.DeletePending(e.ID); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("delete synced entry")
			}
		}
	}

	t.mu.Lock()
	t.pending = lo.Reject(t.pending, func(e Entry, _ int) bool { return done[e.ID] })
	t.mu.Unlock()
	logging.Ctx(ctx).Info().Str("event", "sleep_sync").Int("synced", synced).Int("failed", failed).Msg("pending entries synced")
	return synced, failed
}

// Flush drops every pending entry and returns how many there were.
func (t *Tracker) Flush(ctx context.Context) int {
	t.mu.Lock()
	n := len(t.pending)
	t.pending = nil
	t.mu.Unlock()
	if storage.Ready() {
		if _, err := storage.ClearPending(); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("clear pending entries")
		}
	}
	return n
}

// CheckHealth probes the backend and reports whether availability changed.
func (t *Tracker) CheckHealth(ctx context.Context) (available, changed bool) {
	available = t.backend.Healthy(ctx)
	t.mu.Lock()
	changed = available != t.available
	t.available = available
	t.mu.Unlock()
	if changed {
		logging.Ctx(ctx).Info().Str("event", "sleep_backend_status").Bool("available", available).Msg("backend status changed")
	}
	return available, changed
}

// Status is a snapshot of the cache.
type Status struct {
	Available bool
	Pending   []Entry
	Known     []Entry
}

// Status returns a copy of the cache state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Available: t.available,
		Pending:   append([]Entry(nil), t.pending...),
		Known:     append([]Entry(nil), t.known...),
	}
}

// PendingCount returns the number of queued entries.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
