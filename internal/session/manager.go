package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// CookieName carries the session id.
const CookieName = "irrigation_session"

// Event describes one change to a session.
type Event struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	// Origin names the Manager that raised a relayed event.
	Origin string `json:"origin,omitempty"`
	// Deleted is set for Delete and, with an empty Key, for Clear.
	Deleted bool `json:"deleted,omitempty"`
}

// Broadcaster is implemented by stores shared between dashboard instances.
// The Manager relays deletions through it so a logout on one instance ends
// the live streams held open by the others.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
	// Listen delivers events broadcast by every instance until ctx is done,
	// then closes the channel.
	Listen(ctx context.Context) (<-chan Event, error)
}

// Manager hands out sessions bound to browser cookies and fans out changes
// to subscribers of the same session.
type Manager struct {
	store  Store
	logger *slog.Logger
	secure bool
	maxAge time.Duration

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event

	origin    string
	bus       Broadcaster
	stopRelay context.CancelFunc
	relayDone chan struct{}
}

// ManagerConfig holds the configuration for the Manager.
type ManagerConfig struct {
	Store  Store
	Logger *slog.Logger
	// CookieSecure marks the cookie Secure; enable behind TLS.
	CookieSecure bool
	// MaxAge sets the cookie lifetime; zero makes it a browser-session cookie.
	MaxAge time.Duration
}

// NewManager creates a new Manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("manager config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	m := &Manager{
		store:  cfg.Store,
		logger: cfg.Logger,
		secure: cfg.CookieSecure,
		maxAge: cfg.MaxAge,
		subs:   make(map[string]map[int]chan Event),
		origin: uuid.NewString(),
	}

	if bus, ok := cfg.Store.(Broadcaster); ok {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := bus.Listen(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to listen for session events: %w", err)
		}
		m.bus = bus
		m.stopRelay = cancel
		m.relayDone = make(chan struct{})
		go m.relay(events)
	}
	return m, nil
}

// relay hands events raised by other instances to local subscribers.
func (m *Manager) relay(events <-chan Event) {
	defer close(m.relayDone)
	for ev := range events {
		if ev.Origin == m.origin {
			continue
		}
		m.deliver(ev)
	}
}

// Load returns the request's session, issuing a new id and cookie when the
// browser has none.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return m.Session(c.Value)
		}
	}

	sid := uuid.NewString()
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.maxAge > 0 {
		cookie.MaxAge = int(m.maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
	return m.Session(sid)
}

// Session binds an existing id.
func (m *Manager) Session(sid string) *Session {
	return &Session{id: sid, m: m}
}

// Subscribe returns a channel of changes to the session and a function that
// ends the subscription. Slow subscribers miss events rather than block writers.
func (m *Manager) Subscribe(sid string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[sid] == nil {
		m.subs[sid] = make(map[int]chan Event)
	}
	m.subs[sid][id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[sid], id)
			if len(m.subs[sid]) == 0 {
				delete(m.subs, sid)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// publish notifies local subscribers and, for deletions, other instances.
// Values are never broadcast.
func (m *Manager) publish(ctx context.Context, ev Event) {
	m.deliver(ev)
	if m.bus == nil || !ev.Deleted {
		return
	}
	ev.Origin = m.origin
	if err := m.bus.Broadcast(ctx, ev); err != nil {
		m.logger.Warn("failed to broadcast session event", "key", ev.Key, "error", err)
	}
}

func (m *Manager) deliver(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("session subscriber lagging, dropping event", "key", ev.Key)
		}
	}
}

// Close stops relaying events and closes the underlying store.
func (m *Manager) Close() error {
	if m.stopRelay != nil {
		m.stopRelay()
		<-m.relayDone
	}
	return m.store.Close()
}

// Session is one browser's state.
type Session struct {
	m  *Manager
	id string
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Get reads a raw value.
func (s *Session) Get(ctx context.Context, key string) (string, error) {
	return s.m.store.Get(ctx, s.id, key)
}

// Set writes a raw value and notifies subscribers.
func (s *Session) Set(ctx context.Context, key, value string) error {
	if err := s.m.store.Set(ctx, s.id, key, value); err != nil {
		return err
	}
	s.m.publish(ctx, Event{SessionID: s.id, Key: key, Value: value})
	return nil
}

// Delete removes a value and notifies subscribers.
func (s *Session) Delete(ctx context.Context, key string) error {
	if err := s.m.store.Delete(ctx, s.id, key); err != nil {
		return err
	}
	s.m.publish(ctx, Event{SessionID: s.id, Key: key, Deleted: true})
	return nil
}

// Clear drops every value, as on logout.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.m.store.Clear(ctx, s.id); err != nil {
		return err
	}
	s.m.publish(ctx, Event{SessionID: s.id, Deleted: true})
	return nil
}

// Identity is the logged-in user.
type Identity struct {
	Token    string
	Username string
	UserID   int64
}

// Authenticated reports whether a token is present.
func (i Identity) Authenticated() bool { return i.Token != "" }

// Identity reads the stored identity. Missing keys yield zero values.
func (s *Session) Identity(ctx context.Context) (Identity, error) {
	var id Identity
	var err error

	if id.Token, err = s.optional(ctx, KeyToken); err != nil {
		return Identity{}, err
	}
	if id.Username, err = s.optional(ctx, KeyUsername); err != nil {
		return Identity{}, err
	}
	raw, err := s.optional(ctx, KeyUserID)
	if err != nil {
		return Identity{}, err
	}
	if raw != "" {
		if id.UserID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Identity{}, fmt.Errorf("invalid stored user id %q: %w", raw, err)
		}
	}
	return id, nil
}

// SetIdentity stores the identity returned by login.
func (s *Session) SetIdentity(ctx context.Context, id Identity) error {
	if err := s.Set(ctx, KeyToken, id.Token); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyUsername, id.Username); err != nil {
		return err
	}
	if id.UserID == 0 {
		return s.Delete(ctx, KeyUserID)
	}
	return s.Set(ctx, KeyUserID, strconv.FormatInt(id.UserID, 10))
}

// SelectedMapping returns the cached crop mapping, or nil when none is cached.
// The cache may be stale.
func (s *Session) SelectedMapping(ctx context.Context) (*irrigation.UserCropMapping, error) {
	raw, err := s.optional(ctx, KeySelectedCrop)
	if err != nil || raw == "" {
		return nil, err
	}
	var m irrigation.UserCropMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.m.logger.Warn("discarding unreadable cached crop mapping", "error", err)
		return nil, nil
	}
	return &m, nil
}

// SetSelectedMapping caches the mapping; nil removes it.
func (s *Session) SetSelectedMapping(ctx context.Context, m *irrigation.UserCropMapping) error {
	if m == nil {
		return s.Delete(ctx, KeySelectedCrop)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode crop mapping: %w", err)
	}
	return s.Set(ctx, KeySelectedCrop, string(b))
}

// PasswordReset is the verified reset in progress.
type PasswordReset struct {
	Email string
	Token string
}

// PendingReset returns the reset token stored after a verified code, or a
// zero value when there is none.
func (s *Session) PendingReset(ctx context.Context) (PasswordReset, error) {
	var pr PasswordReset
	var err error
	if pr.Token, err = s.optional(ctx, KeyResetToken); err != nil {
		return PasswordReset{}, err
	}
	if pr.Email, err = s.optional(ctx, KeyResetEmail); err != nil {
		return PasswordReset{}, err
	}
	return pr, nil
}

// SetPendingReset stores a reset token so it never reaches a URL.
func (s *Session) SetPendingReset(ctx context.Context, pr PasswordReset) error {
	if err := s.Set(ctx, KeyResetEmail, pr.Email); err != nil {
		return err
	}
	return s.Set(ctx, KeyResetToken, pr.Token)
}

// ClearPendingReset forgets the reset token.
func (s *Session) ClearPendingReset(ctx context.Context) error {
	if err := s.Delete(ctx, KeyResetToken); err != nil {
		return err
	}
	return s.Delete(ctx, KeyResetEmail)
}

// Severity ranks a toast.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Flash is a toast queued for the next rendered page.
type Flash struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// AddFlash queues a toast.
func (s *Session) AddFlash(ctx context.Context, sev Severity, msg string) error {
	flashes, err := s.flashes(ctx)
	if err != nil {
		return err
	}
	flashes = append(flashes, Flash{Severity: sev, Message: msg})
	b, err := json.Marshal(flashes)
	if err != nil {
		return fmt.Errorf("failed to encode flash: %w", err)
	}
	return s.Set(ctx, KeyFlash, string(b))
}

// Flashes returns and removes the queued toasts.
func (s *Session) Flashes(ctx context.Context) ([]Flash, error) {
	flashes, err := s.flashes(ctx)
	if err != nil || len(flashes) == 0 {
		return nil, err
	}
	if err := s.Delete(ctx, KeyFlash); err != nil {
		return nil, err
	}
	return flashes, nil
}

func (s *Session) flashes(ctx context.Context) ([]Flash, error) {
	raw, err := s.optional(ctx, KeyFlash)
	if err != nil || raw == "" {
		return nil, err
	}
	var flashes []Flash
	if err := json.Unmarshal([]byte(raw), &flashes); err != nil {
		return nil, nil
	}
	return flashes, nil
}

func (s *Session) optional(ctx context.Context, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
