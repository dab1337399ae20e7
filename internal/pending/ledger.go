// Package pending keeps the device-local ledger of achievements with an
// outstanding approval request. The ledger is advisory: the server's
// completed and pending flags always win once fetched.
package pending

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/storage"
)

// StorageKey is the local storage key holding the ledger.
const StorageKey = "football-dynasty-pending-achievements"

// UnknownRequest is the request id of entries loaded from the legacy format,
// which stored achievement ids only.
const UnknownRequest = "unknown"

// Storage is the durable string key/value store backing the ledger.
type Storage interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
}

// Journal records the lifecycle of submitted completions.
type Journal interface {
	RecordCompletion(r storage.CompletionRecord) error
	UpdateCompletionStatus(achievementID, status string) (int, error)
}

// Entry is one pending achievement.
type Entry struct {
	AchievementID string `json:"achievementId"`
	RequestID     string `json:"requestId"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal records additions and resolutions in j.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithLogger sets the ledger's logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) { l.logger = lg }
}

// Ledger maps achievement ids to the request id awaiting approval. Every
// change is written through to storage.
type Ledger struct {
	storage Storage
	journal Journal
	logger  *slog.Logger

	mu    sync.RWMutex
	items map[string]string
}

// New loads the ledger from st. Missing or corrupt content yields an empty
// ledger.
func New(st Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: st,
		logger:  slog.Default(),
		items:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	raw, err := l.storage.GetItem(StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.logger.Warn("reading pending ledger", "error", err)
		}
		return
	}
	items, err := decode(raw)
	if err != nil {
		l.logger.Warn("pending ledger is corrupt, starting empty", "error", err)
		return
	}
	l.items = items
}

func decode(raw string) (map[string]string, error) {
	items := make(map[string]string)
	if raw == "" {
		return items, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err == nil {
		for _, e := range entries {
			if e.AchievementID == "" {
				continue
			}
			if e.RequestID == "" {
				e.RequestID = UnknownRequest
			}
			items[e.AchievementID] = e.RequestID
		}
		return items, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id != "" {
			items[id] = UnknownRequest
		}
	}
	return items, nil
}

// Add marks achievementID pending on requestID.
func (l *Ledger) Add(achievementID, requestID string) {
	if achievementID == "" {
		return
	}
	if requestID == "" {
		requestID = UnknownRequest
	}
	l.mu.Lock()
	l.items[achievementID] = requestID
	l.saveLocked()
	l.mu.Unlock()

	if l.journal != nil && requestID != UnknownRequest {
		err := l.journal.RecordCompletion(storage.CompletionRecord{
			RequestID:     requestID,
			AchievementID: achievementID,
			Status:        storage.CompletionPending,
		})
		if err != nil {
			l.logger.Warn("recording pending completion", "achievement", achievementID, "error", err)
		}
	}
}

// Remove forgets achievementID.
func (l *Ledger) Remove(achievementID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[achievementID]; !ok {
		return
	}
	delete(l.items, achievementID)
	l.saveLocked()
}

// IsPending reports whether achievementID is in the ledger.
func (l *Ledger) IsPending(achievementID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.items[achievementID]
	return ok
}

// RequestID returns the request achievementID is waiting on.
func (l *Ledger) RequestID(achievementID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.items[achievementID]
	return id, ok
}

// Len returns the number of pending achievements.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// All returns the entries sorted by achievement id.
func (l *Ledger) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entriesLocked()
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]string)
	l.saveLocked()
}

// Reconcile drops every achievement the server reports completed and returns
// how many were dropped.
func (l *Ledger) Reconcile(achievements []client.Achievement) int {
	var done []string
	l.mu.Lock()
	for _, a := range achievements {
		if _, ok := l.items[a.ID]; ok && a.IsCompleted {
			delete(l.items, a.ID)
			done = append(done, a.ID)
		}
	}
	if len(done) > 0 {
		l.saveLocked()
	}
	l.mu.Unlock()

	for _, id := range done {
		l.resolve(id, storage.CompletionCompleted)
	}
	return len(done)
}

// ResolveFromNotifications drops every achievement named by an approval or
// rejection notification and returns how many were dropped.
func (l *Ledger) ResolveFromNotifications(ns []client.Notification) int {
	type resolution struct{ id, status string }
	var done []resolution
	l.mu.Lock()
	for _, n := range ns {
		var status string
		switch n.Type {
		case client.NotificationAchievementApproved:
			status = storage.CompletionApproved
		case client.NotificationAchievementRejected:
			status = storage.CompletionRejected
		default:
			continue
		}
		if n.Data == nil {
			continue
		}
		if _, ok := l.items[n.Data.AchievementID]; !ok {
			continue
		}
		delete(l.items, n.Data.AchievementID)
		done = append(done, resolution{n.Data.AchievementID, status})
	}
	if len(done) > 0 {
		l.saveLocked()
	}
	l.mu.Unlock()

	for _, r := range done {
		l.resolve(r.id, r.status)
	}
	return len(done)
}

func (l *Ledger) resolve(achievementID, status string) {
	if l.journal == nil {
		return
	}
	if _, err := l.journal.UpdateCompletionStatus(achievementID, status); err != nil {
		l.logger.Warn("updating completion status", "achievement", achievementID, "status", status, "error", err)
	}
}

func (l *Ledger) entriesLocked() []Entry {
	entries := make([]Entry, 0, len(l.items))
	for a, r := range l.items {
		entries = append(entries, Entry{AchievementID: a, RequestID: r})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AchievementID < entries[j].AchievementID })
	return entries
}

func (l *Ledger) saveLocked() {
	b, err := json.Marshal(l.entriesLocked())
	if err != nil {
		l.logger.Warn("encoding pending ledger", "error", err)
		return
	}
	if err := l.storage.SetItem(StorageKey, string(b)); err != nil {
		l.logger.Warn("writing pending ledger", "error", err)
	}
}
