// Package lobby runs trading sessions: the LOBBY → RUNNING → ENDED state
// machine, the per-session tick loop, and the process-wide registry of
// sessions and player membership.
//
// Locking: the Manager's registry lock and each Session's lock are never
// held together. Code holding a session lock never calls into the Manager,
// and the Manager releases its lock before touching a session.
package lobby

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/execution"
	"github.com/atmx/trading-arena/internal/feed"
	"github.com/atmx/trading-arena/internal/metrics"
	"github.com/atmx/trading-arena/internal/model"
	"github.com/atmx/trading-arena/internal/pricing"
)

const (
	maxNameLen      = 24
	minTickInterval = 10 * time.Millisecond
	codeLen         = 6
)

// Sender delivers a message to one player's live connection. It must not
// block and silently drops when the player is not connected.
type Sender interface {
	SendToPlayer(playerID string, msg any)
}

// Config is fixed at process start.
type Config struct {
	Assets       []string // stepping order
	Tick         float64
	InitialPrice float64
	Params       pricing.Params
	Defaults     model.Rules
	MaxDuration  time.Duration // zero means unbounded
}

// RuleOverrides are the rules a host asks for. Zero fields take the
// configured defaults.
type RuleOverrides struct {
	StartingCapital decimal.Decimal `json:"startingCapital"`
	TickSeconds     float64         `json:"tickSeconds"`
	DurationSec     float64         `json:"durationSec"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSeeds replaces the random seed source of new sessions.
func WithSeeds(seed func() int64) Option {
	return func(m *Manager) { m.seed = seed }
}

// WithCodes replaces the lobby code generator.
func WithCodes(gen func() string) Option {
	return func(m *Manager) { m.newCode = gen }
}

// WithPublisher mirrors every session broadcast to p.
func WithPublisher(p feed.Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// Manager is the session registry.
type Manager struct {
	cfg     Config
	sender  Sender
	pub     feed.Publisher
	now     func() time.Time
	seed    func() int64
	newCode func() string

	ctx  context.Context // parent of every tick loop
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	members  map[string]string // player id → session id
	closing  bool
}

// NewManager creates an empty registry.
func NewManager(cfg Config, sender Sender, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		sender:   sender,
		pub:      feed.Nop{},
		now:      time.Now,
		seed:     func() int64 { return rand.Int63n(1_000_000) + 1 },
		newCode:  randomCode,
		ctx:      ctx,
		stop:     stop,
		sessions: make(map[string]*Session),
		members:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// randomCode derives a short upper-case invite code from a uuid.
func randomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:codeLen])
}

// Create opens a new session hosted by hostID, leaving any session the host
// was in.
func (m *Manager) Create(hostID, name string, o RuleOverrides) (LobbyState, error) {
	name, err := normalizeName(name, hostID)
	if err != nil {
		return LobbyState{}, err
	}
	if err := m.Leave(hostID); err != nil && err != ErrNotInLobby {
		return LobbyState{}, err
	}

	rules := m.resolveRules(o)
	sim := pricing.NewSimulator(m.cfg.Assets, m.cfg.InitialPrice, m.cfg.Tick, m.cfg.Params, m.seed())

	m.mu.Lock()
	id := m.uniqueCodeLocked()
	s := newSession(id, hostID, name, rules, sim, m.now())
	m.sessions[id] = s
	m.members[hostID] = id
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(active))
	slog.Info("session created",
		"session", id,
		"host", hostID,
		"seed", sim.Seed(),
		"starting_capital", rules.StartingCapital.String(),
		"tick", rules.TickInterval,
		"duration", rules.Duration,
	)

	st := s.Snapshot()
	var out outbox
	out.broadcast([]string{hostID}, st)
	m.flush(id, out)
	return st, nil
}

// Join adds a player to a lobby by its code. Rejoining renames the player
// and clears their ready flag. A player joining a different session leaves
// the previous one.
func (m *Manager) Join(playerID, code, name string) (LobbyState, error) {
	name, err := normalizeName(name, playerID)
	if err != nil {
		return LobbyState{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	s, ok := m.Lookup(code)
	if !ok {
		return LobbyState{}, ErrLobbyNotFound
	}
	out, err := s.join(playerID, name)
	if err != nil {
		return LobbyState{}, err
	}

	m.mu.Lock()
	prev := m.members[playerID]
	m.members[playerID] = code
	prevSession := m.sessions[prev]
	m.mu.Unlock()

	if prevSession != nil && prev != code {
		m.flush(prev, prevSession.remove(playerID))
	}
	m.flush(code, out)
	slog.Info("player joined", "session", code, "player", playerID)
	return s.Snapshot(), nil
}

// SetReady updates the player's ready flag in their lobby.
func (m *Manager) SetReady(playerID string, ready bool) error {
	s, err := m.sessionFor(playerID)
	if err != nil {
		return err
	}
	out, err := s.setReady(playerID, ready)
	if err != nil {
		return err
	}
	m.flush(s.ID(), out)
	return nil
}

// Start starts the player's session. Only the host may start a lobby, and
// only once every player is ready. Starting a running or ended session is a
// no-op.
func (m *Manager) Start(playerID string) error {
	s, err := m.sessionFor(playerID)
	if err != nil {
		return err
	}
	loopCtx, out, err := s.start(m.ctx, playerID, m.now())
	if err != nil {
		return err
	}
	m.flush(s.ID(), out)
	if loopCtx == nil {
		return nil
	}

	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		m.flush(s.ID(), s.finish(m.now()))
		s.clearLoop()
		return nil
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	slog.Info("game started", "session", s.ID(), "ends_in", s.Rules().Duration)
	go m.run(loopCtx, s)
	return nil
}

// PlaceOrder executes a market order for the player at the session's
// current price.
func (m *Manager) PlaceOrder(playerID, asset string, side model.Side, qty int64) (execution.Fill, error) {
	fill, err := m.placeOrder(playerID, asset, side, qty)

	sideLabel := string(side)
	if !side.Valid() {
		sideLabel = "invalid"
	}
	outcome := "accepted"
	if err != nil {
		outcome = Code(err)
	}
	metrics.OrdersTotal.WithLabelValues(sideLabel, outcome).Inc()
	return fill, err
}

func (m *Manager) placeOrder(playerID, asset string, side model.Side, qty int64) (execution.Fill, error) {
	s, err := m.sessionFor(playerID)
	if err != nil {
		return execution.Fill{}, err
	}
	fill, out, err := s.placeOrder(playerID, asset, side, qty, m.now())
	if err != nil {
		return execution.Fill{}, err
	}
	m.flush(s.ID(), out)
	slog.Debug("order filled",
		"session", s.ID(),
		"player", playerID,
		"asset", asset,
		"side", side,
		"qty", qty,
		"price", fill.Price.String(),
	)
	return fill, nil
}

// Leave removes the player from their session. Their account is discarded.
func (m *Manager) Leave(playerID string) error {
	m.mu.Lock()
	id, ok := m.members[playerID]
	delete(m.members, playerID)
	s := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		return ErrNotInLobby
	}
	if s != nil {
		m.flush(id, s.remove(playerID))
		slog.Info("player left", "session", id, "player", playerID)
	}
	return nil
}

// Resync replays the player's session state to their connection. It is
// called after a reconnect.
func (m *Manager) Resync(playerID string) {
	s, err := m.sessionFor(playerID)
	if err != nil {
		return
	}
	for _, e := range s.resync(playerID) {
		for _, to := range e.to {
			m.sender.SendToPlayer(to, e.msg)
		}
	}
}

// Lookup returns a session by id. Ids are case-insensitive.
func (m *Manager) Lookup(id string) (*Session, bool) {
	id = strings.ToUpper(id)
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionOf returns the session the player belongs to.
func (m *Manager) SessionOf(playerID string) (*Session, bool) {
	s, err := m.sessionFor(playerID)
	return s, err == nil
}

// List returns summaries of all sessions, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LobbyID < out[j].LobbyID
	})
	return out
}

// Close force-ends a session. A running game ends at the next tick
// boundary. Closing an ended session does nothing.
func (m *Manager) Close(id string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return ErrLobbyNotFound
	}
	m.flush(s.ID(), s.close(m.now()))
	return nil
}

// Shutdown cancels every tick loop and waits for them to exit. No new loop
// starts afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep drops ended sessions older than retention and empty lobbies older
// than retention. It returns the number of sessions removed.
func (m *Manager) Sweep(now time.Time, retention time.Duration) int {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	type reaped struct {
		id      string
		members []string
	}
	var gone []reaped
	for _, s := range candidates {
		if members, ok := s.reap(now, retention); ok {
			gone = append(gone, reaped{id: s.ID(), members: members})
		}
	}
	if len(gone) == 0 {
		return 0
	}

	m.mu.Lock()
	for _, r := range gone {
		delete(m.sessions, r.id)
		for _, pid := range r.members {
			if m.members[pid] == r.id {
				delete(m.members, pid)
			}
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	for _, r := range gone {
		slog.Info("session removed", "session", r.id)
	}
	return len(gone)
}

func (m *Manager) sessionFor(playerID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.members[playerID]
	if !ok {
		return nil, ErrNotInLobby
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotInLobby
	}
	return s, nil
}

func (m *Manager) uniqueCodeLocked() string {
	for range 32 {
		if c := m.newCode(); c != "" {
			if _, taken := m.sessions[c]; !taken {
				return c
			}
		}
	}
	// The code space is exhausted or the generator is stuck; fall back to a
	// longer id.
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (m *Manager) resolveRules(o RuleOverrides) model.Rules {
	r := m.cfg.Defaults
	if o.StartingCapital.IsPositive() {
		r.StartingCapital = o.StartingCapital
	}
	if o.DurationSec > 0 {
		r.Duration = seconds(o.DurationSec)
	}
	if m.cfg.MaxDuration > 0 && r.Duration > m.cfg.MaxDuration {
		r.Duration = m.cfg.MaxDuration
	}
	if o.TickSeconds > 0 {
		r.TickInterval = seconds(o.TickSeconds)
	}
	if r.TickInterval > r.Duration {
		r.TickInterval = r.Duration
	}
	if r.TickInterval < minTickInterval {
		r.TickInterval = minTickInterval
	}
	return r
}

func seconds(f float64) time.Duration {
	if f >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f * float64(time.Second))
}

func normalizeName(name, playerID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		short := playerID
		if len(short) > 4 {
			short = short[:4]
		}
		return "User-" + short, nil
	}
	if utf8.RuneCountInString(name) > maxNameLen || !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	return name, nil
}

// flush delivers an outbox. Broadcasts are also mirrored to the feed.
func (m *Manager) flush(sessionID string, out outbox) {
	for _, e := range out {
		for _, to := range e.to {
			m.sender.SendToPlayer(to, e.msg)
		}
		if e.broadcast {
			m.pub.Publish(context.Background(), sessionID, e.msg)
		}
	}
}
