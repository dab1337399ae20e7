// Package session holds the signed-in user, the selected team and the bearer
// token, mirrored into durable local storage so a restart restores the
// session without a round trip.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/dynasty/internal/client"
)

// Storage keys.
const (
	KeyToken        = "auth_token"
	KeyUser         = "user"
	KeySelectedTeam = "selected_team"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// Storage is the durable string key/value store. GetItem returns an error
// wrapping a not-found sentinel when the key is absent; any error is
// treated as "unset".
type Storage interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// API is the subset of the resource client the session needs.
type API interface {
	Login(ctx context.Context, req client.LoginRequest) (client.AuthResponse, error)
	Register(ctx context.Context, req client.RegisterRequest) (client.AuthResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (client.User, error)
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	User         *client.User
	SelectedTeam *client.Team
}

// IsAuthenticated reports whether a user is signed in.
func (s Snapshot) IsAuthenticated() bool { return s.User != nil }

// UserID returns the signed-in user's id, or "" when signed out.
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// IsCommissioner reports whether the user holds the commissioner role.
func (s Snapshot) IsCommissioner() bool {
	return s.User != nil && s.User.HasRole(client.RoleCommissioner)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNow overrides the clock used for token expiry checks.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the process-wide session. Only its methods mutate the session or
// its storage keys.
type Store struct {
	api     API
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
	user  *client.User
	team  *client.Team

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates a Store and restores any session saved in st.
func New(api API, st Storage, opts ...Option) *Store {
	s := &Store{
		api:     api,
		storage: st,
		logger:  slog.Default(),
		now:     time.Now,
		subs:    make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	token, terr := s.storage.GetItem(KeyToken)
	rawUser, uerr := s.storage.GetItem(KeyUser)
	if terr != nil || uerr != nil || token == "" {
		return
	}

	var user client.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		s.logger.Warn("stored user is corrupt, clearing session", "error", err)
		s.removeAll()
		return
	}
	var team *client.Team
	if rawTeam, err := s.storage.GetItem(KeySelectedTeam); err == nil && rawTeam != "" {
		team = new(client.Team)
		if err := json.Unmarshal([]byte(rawTeam), team); err != nil {
			s.logger.Warn("stored selected team is corrupt, clearing session", "error", err)
			s.removeAll()
			return
		}
	}
	if s.expired(token) {
		s.logger.Info("stored token expired, clearing session", "user", user.Username)
		s.removeAll()
		return
	}

	s.mu.Lock()
	s.token, s.user, s.team = token, &user, team
	s.mu.Unlock()
	s.logger.Debug("session restored", "user", user.Username)
}

// expired reads the token's exp claim without verifying its signature.
// Opaque tokens and tokens without exp never expire locally.
func (s *Store) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Before(exp.Time)
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	var snap Snapshot
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.team != nil {
		t := *s.team
		snap.SelectedTeam = &t
	}
	return snap
}

// Subscribe calls f after every session change until the returned cancel
// function is called. f runs on the goroutine that made the change.
func (s *Store) Subscribe(f func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = f
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish() {
	snap := s.Snapshot()
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, f := range s.subs {
		fns = append(fns, f)
	}
	s.subMu.Unlock()
	for _, f := range fns {
		f(snap)
	}
}

// Login authenticates and stores the resulting session.
func (s *Store) Login(ctx context.Context, username, password string) (Snapshot, error) {
	resp, err := s.api.Login(ctx, client.LoginRequest{Username: username, Password: password})
	if err != nil {
		return Snapshot{}, fmt.Errorf("login: %w", err)
	}
	return s.establish(resp), nil
}

// Register creates an account and signs in as it.
func (s *Store) Register(ctx context.Context, req client.RegisterRequest) (Snapshot, error) {
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("register: %w", err)
	}
	return s.establish(resp), nil
}

func (s *Store) establish(resp client.AuthResponse) Snapshot {
	user := resp.User
	team := resp.SelectedTeam
	if team == nil {
		team = user.SelectedTeam
	}

	s.mu.Lock()
	s.token, s.user, s.team = resp.Token, &user, team
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("signed in", "user", user.Username)
	s.publish()
	return snap
}

// Logout tells the server and clears the local session. The local session is
// cleared even when the server call fails.
func (s *Store) Logout(ctx context.Context) error {
	if s.Token() == "" {
		return nil
	}
	err := s.api.Logout(ctx)
	if err != nil && !errors.Is(err, client.ErrUnauthorized) {
		s.logger.Warn("server logout failed", "error", err)
	}
	s.Clear()
	return nil
}

// Clear drops the session and its stored keys. It is the 401 handler.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.user != nil || s.token != ""
	s.token, s.user, s.team = "", nil, nil
	s.removeAll()
	s.mu.Unlock()
	if had {
		s.publish()
	}
}

// SelectTeam makes team the user's active team.
func (s *Store) SelectTeam(team client.Team) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.team = &team
	s.user.SelectedTeamID = team.ID
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	return nil
}

// Refresh reloads the user from the server.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	if s.Token() == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refreshing user: %w", err)
	}

	s.mu.Lock()
	if s.token == "" {
		// Cleared while the request was in flight.
		s.mu.Unlock()
		return Snapshot{}, ErrNotAuthenticated
	}
	if user.SelectedTeam != nil {
		s.team = user.SelectedTeam
	}
	s.user = &user
	s.persistLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish()
	return snap, nil
}

func (s *Store) persistLocked() {
	s.set(KeyToken, s.token)
	if b, err := json.Marshal(s.user); err == nil {
		s.set(KeyUser, string(b))
	}
	if s.team == nil {
		if err := s.storage.RemoveItem(KeySelectedTeam); err != nil {
			s.logger.Warn("removing stored session key", "key", KeySelectedTeam, "error", err)
		}
		return
	}
	if b, err := json.Marshal(s.team); err == nil {
		s.set(KeySelectedTeam, string(b))
	}
}

func (s *Store) set(key, value string) {
	if err := s.storage.SetItem(key, value); err != nil {
		s.logger.Warn("writing session key", "key", key, "error", err)
	}
}

func (s *Store) removeAll() {
	for _, k := range []string{KeyToken, KeyUser, KeySelectedTeam} {
		if err := s.storage.RemoveItem(k); err != nil {
			s.logger.Warn("removing stored session key", "key", k, "error", err)
		}
	}
}
