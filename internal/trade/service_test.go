package trade_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/lobby"
	"github.com/atmx/trading-arena/internal/model"
	"github.com/atmx/trading-arena/internal/pricing"
	"github.com/atmx/trading-arena/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	hub    *trade.Hub
	mgr    *lobby.Manager
	router chi.Router
	srv    *httptest.Server
}

// newTestEnv wires a hub, a session manager and the chi router the way the
// server does, behind an httptest server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := trade.NewHub(256)
	mgr := lobby.NewManager(lobby.Config{
		Assets:       []string{"GOLD", "OIL"},
		Tick:         0.01,
		InitialPrice: 100,
		Params:       pricing.DefaultParams(),
		Defaults: model.Rules{
			StartingCapital: d(10000),
			TickInterval:    time.Second,
			Duration:        5 * time.Minute,
		},
		MaxDuration: time.Hour,
	}, hub, lobby.WithSeeds(func() int64 { return 7 }))
	svc := trade.NewService(hub, mgr)

	r := chi.NewRouter()
	r.Get("/ws", svc.HandleWS)
	r.Get("/api/v1/sessions", svc.ListSessions)
	r.Get("/api/v1/sessions/{lobbyID}", svc.GetSession)
	r.Get("/api/v1/sessions/{lobbyID}/leaderboard", svc.GetLeaderboard)
	r.Get("/api/v1/sessions/{lobbyID}/prices", svc.GetPrices)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
		srv.Close()
	})
	return &testEnv{hub: hub, mgr: mgr, router: r, srv: srv}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if userID != "" {
		u += "?userId=" + url.QueryEscape(userID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	return readMatching(t, conn, typ, func(map[string]any) bool { return true })
}

func readMatching(t *testing.T, conn *websocket.Conn, typ string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if m["type"] == typ && match(m) {
			return m
		}
	}
}

// --- WebSocket ---

func TestWS_HelloAssignsIdentity(t *testing.T) {
	env := newTestEnv(t)

	anon := env.dial(t, "")
	hello := readUntil(t, anon, "HELLO")
	if id, _ := hello["userId"].(string); id == "" {
		t.Error("expected a generated userId")
	}

	named := env.dial(t, "alice")
	hello = readUntil(t, named, "HELLO")
	if hello["userId"] != "alice" {
		t.Errorf("expected userId alice, got %v", hello["userId"])
	}
}

func TestWS_GameFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, "HELLO")
	readUntil(t, bob, "HELLO")

	send(t, alice, map[string]any{
		"type":  "CREATE_LOBBY",
		"name":  "Alice",
		"rules": map[string]any{"startingCapital": 5000, "tickSeconds": 0.2, "durationSec": 30},
	})
	invite := readUntil(t, alice, "INVITE_CODE")
	lobbyID, _ := invite["lobbyId"].(string)
	if len(lobbyID) != 6 || strings.ToUpper(lobbyID) != lobbyID {
		t.Fatalf("expected a 6-character upper-case code, got %q", lobbyID)
	}
	if u, _ := invite["inviteUrl"].(string); !strings.HasSuffix(u, "/?join="+lobbyID) {
		t.Errorf("unexpected invite url %q", u)
	}

	send(t, bob, map[string]any{"type": "JOIN_LOBBY", "lobbyId": strings.ToLower(lobbyID), "name": "Bob"})
	state := readUntil(t, bob, "LOBBY_STATE")
	if players, _ := state["players"].([]any); len(players) != 2 {
		t.Fatalf("expected 2 players, got %v", state["players"])
	}

	send(t, alice, map[string]any{"type": "START_GAME"})
	if e := readUntil(t, alice, "ERROR"); e["code"] != "players_not_ready" {
		t.Errorf("expected players_not_ready, got %v", e["code"])
	}

	send(t, alice, map[string]any{"type": "SET_READY", "ready": true})
	send(t, bob, map[string]any{"type": "SET_READY", "ready": true})
	readMatching(t, alice, "LOBBY_STATE", func(m map[string]any) bool {
		players, _ := m["players"].([]any)
		for _, p := range players {
			if ready, _ := p.(map[string]any)["ready"].(bool); !ready {
				return false
			}
		}
		return len(players) == 2
	})

	send(t, bob, map[string]any{"type": "START_GAME"})
	if e := readUntil(t, bob, "ERROR"); e["code"] != "not_host" {
		t.Errorf("expected not_host, got %v", e["code"])
	}

	send(t, alice, map[string]any{"type": "START_GAME"})
	readUntil(t, bob, "GAME_STARTED")
	tick := readUntil(t, alice, "TICK")
	if prices, _ := tick["prices"].(map[string]any); len(prices) != 2 {
		t.Errorf("expected prices for 2 assets, got %v", tick["prices"])
	}

	send(t, alice, map[string]any{"type": "ORDER", "asset": "gold", "side": "buy", "qty": 10})
	ack := readUntil(t, alice, "ORDER_ACCEPTED")
	if ack["asset"] != "GOLD" || ack["side"] != "BUY" || ack["qty"] != float64(10) {
		t.Errorf("unexpected ack %v", ack)
	}
	readMatching(t, alice, "PORTFOLIO", func(m map[string]any) bool {
		positions, _ := m["positions"].(map[string]any)
		gold, _ := positions["GOLD"].(map[string]any)
		return gold["qty"] == float64(10)
	})

	send(t, bob, map[string]any{"type": "ORDER", "asset": "GOLD", "side": "SELL", "qty": 0})
	if rej := readUntil(t, bob, "ORDER_REJECT"); rej["reason"] != "invalid" {
		t.Errorf("expected invalid, got %v", rej["reason"])
	}
	send(t, bob, map[string]any{"type": "ORDER", "asset": "OIL", "side": "BUY", "qty": 1_000_000})
	if rej := readUntil(t, bob, "ORDER_REJECT"); rej["reason"] != "insufficient_cash" {
		t.Errorf("expected insufficient_cash, got %v", rej["reason"])
	}

	readUntil(t, bob, "LEADERBOARD")
}

func TestWS_ErrorsKeepConnectionAlive(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t, "carol")
	readUntil(t, c, "HELLO")

	if err := c.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if e := readUntil(t, c, "ERROR"); e["code"] != "malformed" {
		t.Errorf("expected malformed, got %v", e["code"])
	}

	send(t, c, map[string]any{"type": "ORDER", "asset": "GOLD", "side": "BUY", "qty": 1})
	if rej := readUntil(t, c, "ORDER_REJECT"); rej["reason"] != "not_in_lobby" {
		t.Errorf("expected not_in_lobby, got %v", rej["reason"])
	}

	send(t, c, map[string]any{"type": "JOIN_LOBBY", "lobbyId": "ZZZZZZ"})
	if e := readUntil(t, c, "ERROR"); e["code"] != "lobby_not_found" {
		t.Errorf("expected lobby_not_found, got %v", e["code"])
	}

	send(t, c, map[string]any{"type": "SOMETHING_NEW"})
	send(t, c, map[string]any{"type": "PING"})
	readUntil(t, c, "PONG")
}

func TestWS_ReconnectReplaysState(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t, "alice")
	readUntil(t, first, "HELLO")
	send(t, first, map[string]any{"type": "CREATE_LOBBY", "name": "Alice"})
	invite := readUntil(t, first, "INVITE_CODE")

	second := env.dial(t, "alice")
	readUntil(t, second, "HELLO")
	state := readUntil(t, second, "LOBBY_STATE")
	if state["lobbyId"] != invite["lobbyId"] {
		t.Errorf("expected replay of %v, got %v", invite["lobbyId"], state["lobbyId"])
	}

	// The replaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	if env.hub.Count() != 1 {
		t.Errorf("expected one live connection, got %d", env.hub.Count())
	}
	if _, ok := env.mgr.SessionOf("alice"); !ok {
		t.Error("the player must keep their session across reconnects")
	}
}

func TestWS_LeaveLobby(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	send(t, alice, map[string]any{"type": "CREATE_LOBBY", "name": "Alice"})
	invite := readUntil(t, alice, "INVITE_CODE")
	send(t, bob, map[string]any{"type": "JOIN_LOBBY", "lobbyId": invite["lobbyId"], "name": "Bob"})
	readUntil(t, bob, "LOBBY_STATE")

	send(t, bob, map[string]any{"type": "LEAVE_LOBBY"})
	readMatching(t, alice, "LOBBY_STATE", func(m map[string]any) bool {
		players, _ := m["players"].([]any)
		return len(players) == 1
	})

	send(t, bob, map[string]any{"type": "LEAVE_LOBBY"})
	if e := readUntil(t, bob, "ERROR"); e["code"] != "not_in_lobby" {
		t.Errorf("expected not_in_lobby, got %v", e["code"])
	}
}

// --- REST ---

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.mgr.Create("u1", "One", lobby.RuleOverrides{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.mgr.Create("u2", "Two", lobby.RuleOverrides{}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Sessions []lobby.Summary `json:"sessions"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(resp.Sessions))
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t)
	st, _ := env.mgr.Create("u1", "One", lobby.RuleOverrides{})

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+strings.ToLower(st.LobbyID), nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]any
	json.Unmarshal(w.Body.Bytes(), &got)
	if got["type"] != "LOBBY_STATE" || got["lobbyId"] != st.LobbyID || got["status"] != "LOBBY" {
		t.Errorf("unexpected snapshot %v", got)
	}
	rules, _ := got["rules"].(map[string]any)
	if rules["tickSeconds"] != float64(1) || rules["durationSec"] != float64(300) {
		t.Errorf("rules should be rendered in seconds, got %v", rules)
	}
}

func TestGetLeaderboardAndPrices(t *testing.T) {
	env := newTestEnv(t)
	st, _ := env.mgr.Create("u1", "One", lobby.RuleOverrides{})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sessions/"+st.LobbyID+"/leaderboard", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard: expected 200, got %d", w.Code)
	}
	var lb lobby.Leaderboard
	json.Unmarshal(w.Body.Bytes(), &lb)
	if len(lb.Standings) != 1 || lb.Standings[0].Rank != 1 || !lb.Standings[0].Equity.Equal(d(10000)) {
		t.Errorf("unexpected leaderboard %+v", lb)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sessions/"+st.LobbyID+"/prices", nil))
	var prices struct {
		Prices map[string]decimal.Decimal `json:"prices"`
	}
	json.Unmarshal(w.Body.Bytes(), &prices)
	if !prices.Prices["GOLD"].Equal(d(100)) {
		t.Errorf("expected opening price 100, got %v", prices.Prices)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/api/v1/sessions/NOPE00",
		"/api/v1/sessions/NOPE00/leaderboard",
		"/api/v1/sessions/NOPE00/prices",
	} {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
		var body map[string]string
		json.Unmarshal(w.Body.Bytes(), &body)
		if body["error"] == "" {
			t.Errorf("%s: expected a JSON error body", path)
		}
	}
}
