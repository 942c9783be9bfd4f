// Package trade is the client-facing transport of the arena: the WebSocket
// endpoint that turns inbound actions into session operations, the
// connection registry that delivers session messages, and read-only REST
// views of running sessions.
//
// All monetary values use shopspring/decimal.
package trade

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atmx/trading-arena/internal/lobby"
	"github.com/atmx/trading-arena/internal/metrics"
	"github.com/atmx/trading-arena/internal/model"
)

// Service handles client connections and session queries.
type Service struct {
	hub     *Hub
	lobbies *lobby.Manager
	now     func() time.Time
}

// NewService creates a new transport service. The hub must be the Sender
// the manager was built with.
func NewService(hub *Hub, lobbies *lobby.Manager) *Service {
	return &Service{hub: hub, lobbies: lobbies, now: time.Now}
}

// --- WebSocket ---

// HandleWS handles WebSocket upgrade requests at GET /ws. A client
// reconnecting with ?userId= resumes its identity and gets the state of its
// session replayed.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	playerID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if playerID == "" {
		playerID = uuid.NewString()
	}
	c := newClient(playerID, conn, s.hub.sendBuffer)
	go c.writePump()

	c.sendJSON(Hello{Type: "HELLO", UserID: playerID})
	s.hub.Register(c)
	s.lobbies.Resync(playerID)

	defer func() {
		s.hub.Unregister(c)
		c.Close()
	}()

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read failed", "player", playerID, "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(c, r, data)
	}
}

// dispatch applies one inbound message. Failures are reported to the
// originating connection only; nothing here can end the read loop.
func (s *Service) dispatch(c *Client, r *http.Request, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("action handler panicked", "player", c.playerID, "panic", rec)
			c.sendJSON(errorReply("internal"))
		}
	}()

	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		metrics.ActionsTotal.WithLabelValues("malformed").Inc()
		c.sendJSON(errorReply("malformed"))
		return
	}
	metrics.ActionsTotal.WithLabelValues(actionLabel(a.Type)).Inc()

	pid := c.playerID
	switch a.Type {
	case ActionCreateLobby:
		var rules lobby.RuleOverrides
		if a.Rules != nil {
			rules = *a.Rules
		}
		st, err := s.lobbies.Create(pid, a.Name, rules)
		if err != nil {
			s.reject(c, a.Type, err)
			return
		}
		c.sendJSON(InviteCode{
			Type:      "INVITE_CODE",
			LobbyID:   st.LobbyID,
			InviteURL: inviteURL(r, st.LobbyID),
		})

	case ActionJoinLobby:
		if _, err := s.lobbies.Join(pid, a.LobbyID, a.Name); err != nil {
			s.reject(c, a.Type, err)
		}

	case ActionSetReady:
		if err := s.lobbies.SetReady(pid, a.Ready); err != nil {
			s.reject(c, a.Type, err)
		}

	case ActionStartGame:
		if err := s.lobbies.Start(pid); err != nil {
			s.reject(c, a.Type, err)
		}

	case ActionOrder:
		qty, err := a.Qty.Int64()
		if err != nil {
			qty = 0 // rejected as invalid by the engine
		}
		side := model.Side(strings.ToUpper(a.Side))
		asset := strings.ToUpper(a.Asset)
		if _, err := s.lobbies.PlaceOrder(pid, asset, side, qty); err != nil {
			slog.Debug("order rejected", "player", pid, "asset", asset, "side", side, "qty", qty, "err", err)
			c.sendJSON(OrderReject{Type: "ORDER_REJECT", Reason: lobby.Code(err)})
		}

	case ActionLeaveLobby:
		if err := s.lobbies.Leave(pid); err != nil {
			s.reject(c, a.Type, err)
		}

	case ActionPing:
		c.sendJSON(Pong{Type: "PONG", Ts: s.now()})

	default:
		slog.Debug("unknown action ignored", "player", pid, "type", a.Type)
	}
}

func (s *Service) reject(c *Client, action string, err error) {
	slog.Debug("action rejected", "player", c.playerID, "action", action, "err", err)
	c.sendJSON(errorReply(lobby.Code(err)))
}

// actionLabel bounds the metric label set to the known action types.
func actionLabel(t string) string {
	switch t {
	case ActionCreateLobby, ActionJoinLobby, ActionSetReady, ActionStartGame,
		ActionOrder, ActionLeaveLobby, ActionPing:
		return t
	}
	return "unknown"
}

// inviteURL builds the link a host shares: the page served from the same
// host with the lobby code as the join parameter.
func inviteURL(r *http.Request, lobbyID string) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/?join=%s", scheme, r.Host, lobbyID)
}

// --- HTTP Handlers ---

// ListSessions handles GET /api/v1/sessions
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.lobbies.List(),
	})
}

// GetSession handles GET /api/v1/sessions/{lobbyID}
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lobbies.Lookup(chi.URLParam(r, "lobbyID"))
	if !ok {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// GetLeaderboard handles GET /api/v1/sessions/{lobbyID}/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lobbies.Lookup(chi.URLParam(r, "lobbyID"))
	if !ok {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Leaderboard())
}

// GetPrices handles GET /api/v1/sessions/{lobbyID}/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lobbies.Lookup(chi.URLParam(r, "lobbyID"))
	if !ok {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lobbyId": sess.ID(),
		"status":  sess.Status(),
		"prices":  sess.Prices(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
