package lobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/execution"
	"github.com/atmx/trading-arena/internal/model"
	"github.com/atmx/trading-arena/internal/pricing"
)

// Session is one game: its rules, players, market simulation and lifecycle.
//
// Every read and write of mutable state holds mu, for the whole of an order
// execution or a tick. Methods that change state return an outbox instead
// of sending, so delivery always happens after mu is released.
type Session struct {
	id        string
	hostID    string
	rules     model.Rules
	createdAt time.Time

	mu       sync.Mutex
	status   model.Status
	sim      *pricing.Simulator
	accounts map[string]*model.Account
	order    []string // player ids in join order
	started  time.Time
	endsAt   time.Time
	ended    time.Time
	loop     context.CancelFunc // tick-loop handle, nil while no loop runs
	removed  bool               // dropped from the registry
}

func newSession(id, hostID, hostName string, rules model.Rules, sim *pricing.Simulator, now time.Time) *Session {
	s := &Session{
		id:        id,
		hostID:    hostID,
		rules:     rules,
		createdAt: now,
		status:    model.StatusLobby,
		sim:       sim,
		accounts:  make(map[string]*model.Account),
	}
	s.addPlayerLocked(hostID, hostName)
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) HostID() string     { return s.hostID }
func (s *Session) Rules() model.Rules { return s.rules }
func (s *Session) Seed() int64        { return s.sim.Seed() }

func (s *Session) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the current session-state message.
func (s *Session) Snapshot() LobbyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Leaderboard ranks the players at the current prices.
func (s *Session) Leaderboard() Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// Portfolio returns one player's account snapshot.
func (s *Session) Portfolio(playerID string) (Portfolio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[playerID]
	if !ok {
		return Portfolio{}, false
	}
	return portfolioOf(s.id, acct, s.sim.Quotes()), true
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		LobbyID:   s.id,
		Status:    s.status,
		HostID:    s.hostID,
		Players:   len(s.order),
		CreatedAt: s.createdAt,
	}
}

// Prices returns the current quote of every asset.
func (s *Session) Prices() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Quotes()
}

// Looping reports whether a tick loop currently owns the session.
func (s *Session) Looping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil
}

// --- transitions ---

func (s *Session) join(playerID, name string) (outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil, ErrLobbyNotFound
	}
	if s.status != model.StatusLobby {
		return nil, ErrLobbyNotJoinable
	}
	if acct, ok := s.accounts[playerID]; ok {
		acct.Name = name
		acct.Ready = false
	} else {
		s.addPlayerLocked(playerID, name)
	}
	var out outbox
	out.broadcast(s.membersLocked(), s.stateLocked())
	return out, nil
}

func (s *Session) setReady(playerID string, ready bool) (outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusLobby {
		return nil, ErrLobbyNotJoinable
	}
	acct, ok := s.accounts[playerID]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	acct.Ready = ready
	var out outbox
	out.broadcast(s.membersLocked(), s.stateLocked())
	return out, nil
}

// start moves a ready lobby to RUNNING. Starting a session that already
// left LOBBY has no effect. The returned context is non-nil only when the
// caller must launch the tick loop; the loop handle is set before start
// returns so a session never gets two loops.
func (s *Session) start(ctx context.Context, playerID string, now time.Time) (context.Context, outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil, nil, ErrLobbyNotFound
	}
	if s.status != model.StatusLobby {
		return nil, nil, nil
	}
	if playerID != s.hostID {
		return nil, nil, ErrNotHost
	}
	if len(s.order) == 0 {
		return nil, nil, ErrPlayersNotReady
	}
	for _, id := range s.order {
		if !s.accounts[id].Ready {
			return nil, nil, ErrPlayersNotReady
		}
	}

	s.status = model.StatusRunning
	s.started = now
	s.endsAt = now.Add(s.rules.Duration)

	var out outbox
	members := s.membersLocked()
	out.broadcast(members, s.stateLocked())
	out.broadcast(members, GameStarted{
		Type:    TypeGameStarted,
		LobbyID: s.id,
		StartTs: s.started,
		EndTs:   s.endsAt,
	})

	if s.loop != nil {
		return nil, out, nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loop = cancel
	return loopCtx, out, nil
}

func (s *Session) placeOrder(playerID, asset string, side model.Side, qty int64, now time.Time) (execution.Fill, outbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusRunning || !now.Before(s.endsAt) {
		return execution.Fill{}, nil, ErrNotRunning
	}
	acct, ok := s.accounts[playerID]
	if !ok {
		return execution.Fill{}, nil, ErrPlayerNotFound
	}
	price, ok := s.sim.Quote(asset)
	if !ok {
		return execution.Fill{}, nil, fmt.Errorf("%w: unknown asset %q", execution.ErrInvalidOrder, asset)
	}

	fill, err := execution.Execute(acct, asset, side, qty, price, now)
	if err != nil {
		return execution.Fill{}, nil, err
	}

	marks := s.sim.Quotes()
	var out outbox
	out.send(playerID, OrderAccepted{
		Type:  TypeOrderAccepted,
		Asset: fill.Asset,
		Side:  fill.Side,
		Qty:   fill.Qty,
		Price: fill.Price,
	})
	out.send(playerID, portfolioOf(s.id, acct, marks))
	out.broadcast(s.membersLocked(), rank(s.id, s.accountsLocked(), marks))
	return fill, out, nil
}

// remove drops a player's account. The session status is unaffected.
func (s *Session) remove(playerID string) outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[playerID]; !ok {
		return nil
	}
	delete(s.accounts, playerID)
	for i, id := range s.order {
		if id == playerID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	var out outbox
	out.broadcast(s.membersLocked(), s.stateLocked())
	return out
}

// tick runs one loop iteration: end the game once endsAt is reached,
// otherwise advance every market and publish prices, portfolios and the
// leaderboard. done reports that the loop must stop.
func (s *Session) tick(now time.Time) (out outbox, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusRunning {
		return nil, true
	}
	if !now.Before(s.endsAt) {
		return s.endLocked(now), true
	}

	s.sim.Step()
	marks := s.sim.Quotes()
	members := s.membersLocked()

	out.broadcast(members, Tick{
		Type:         TypeTick,
		LobbyID:      s.id,
		Ts:           now,
		Prices:       marks,
		RemainingSec: int(s.endsAt.Sub(now) / time.Second),
	})
	for _, id := range members {
		out.send(id, portfolioOf(s.id, s.accounts[id], marks))
	}
	out.broadcast(members, rank(s.id, s.accountsLocked(), marks))
	return out, false
}

// finish ends a running session early. It is used when the tick loop is
// cancelled.
func (s *Session) finish(now time.Time) outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusRunning {
		return nil
	}
	return s.endLocked(now)
}

// close force-ends the session. A running loop is cancelled and ends the
// game at its next tick boundary.
func (s *Session) close(now time.Time) outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case model.StatusRunning:
		if s.loop != nil {
			s.loop()
			return nil
		}
		return s.endLocked(now)
	case model.StatusLobby:
		s.status = model.StatusEnded
		s.ended = now
		var out outbox
		members := s.membersLocked()
		out.broadcast(members, s.stateLocked())
		out.broadcast(members, GameEnded{Type: TypeGameEnded, LobbyID: s.id, EndedAt: now})
		return out
	}
	return nil
}

// clearLoop releases the tick loop's context and drops the handle.
func (s *Session) clearLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		s.loop()
		s.loop = nil
	}
}

// resync replays the session state to a reconnecting player.
func (s *Session) resync(playerID string) outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[playerID]
	if !ok {
		return nil
	}
	var out outbox
	out.send(playerID, s.stateLocked())
	if s.status == model.StatusRunning {
		out.send(playerID, portfolioOf(s.id, acct, s.sim.Quotes()))
	}
	return out
}

// reap marks the session removed when it has outlived retention: ENDED
// sessions counted from their end, empty lobbies from their creation. It
// returns the ids of players still mapped to it.
func (s *Session) reap(now time.Time, retention time.Duration) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil, false
	}
	switch {
	case s.status == model.StatusEnded && now.Sub(s.ended) >= retention:
	case s.status == model.StatusLobby && len(s.order) == 0 && now.Sub(s.createdAt) >= retention:
	default:
		return nil, false
	}
	s.removed = true
	return s.membersLocked(), true
}

// --- helpers, mu held ---

func (s *Session) addPlayerLocked(id, name string) {
	s.accounts[id] = model.NewAccount(id, name, s.rules.StartingCapital, s.sim.Assets())
	s.order = append(s.order, id)
}

func (s *Session) endLocked(now time.Time) outbox {
	s.status = model.StatusEnded
	s.ended = now

	var out outbox
	members := s.membersLocked()
	out.broadcast(members, GameEnded{Type: TypeGameEnded, LobbyID: s.id, EndedAt: now})
	out.broadcast(members, s.leaderboardLocked())
	return out
}

func (s *Session) membersLocked() []string {
	return append([]string(nil), s.order...)
}

func (s *Session) accountsLocked() []*model.Account {
	out := make([]*model.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out
}

func (s *Session) leaderboardLocked() Leaderboard {
	return rank(s.id, s.accountsLocked(), s.sim.Quotes())
}

func (s *Session) stateLocked() LobbyState {
	players := make([]PlayerView, 0, len(s.order))
	for _, id := range s.order {
		a := s.accounts[id]
		players = append(players, PlayerView{UserID: id, Name: a.Name, Ready: a.Ready})
	}
	st := LobbyState{
		Type:    TypeLobbyState,
		LobbyID: s.id,
		Status:  s.status,
		HostID:  s.hostID,
		Rules:   s.rules,
		Players: players,
		Seed:    s.sim.Seed(),
		Assets:  s.sim.Assets(),
	}
	if !s.started.IsZero() {
		started, ends := s.started, s.endsAt
		st.StartedAt, st.EndsAt = &started, &ends
	}
	return st
}

// --- outbound ---

type envelope struct {
	to        []string
	msg       any
	broadcast bool // also mirrored to the session feed
}

// outbox collects messages built under the session lock for delivery
// after it is released.
type outbox []envelope

func (o *outbox) broadcast(to []string, msg any) {
	*o = append(*o, envelope{to: to, msg: msg, broadcast: true})
}

func (o *outbox) send(to string, msg any) {
	*o = append(*o, envelope{to: []string{to}, msg: msg})
}
