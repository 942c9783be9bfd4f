package trade

import (
	"encoding/json"
	"time"

	"github.com/atmx/trading-arena/internal/lobby"
)

// Inbound action types.
const (
	ActionCreateLobby = "CREATE_LOBBY"
	ActionJoinLobby   = "JOIN_LOBBY"
	ActionSetReady    = "SET_READY"
	ActionStartGame   = "START_GAME"
	ActionOrder       = "ORDER"
	ActionLeaveLobby  = "LEAVE_LOBBY"
	ActionPing        = "PING"
)

// Action is one inbound client message. Only the fields of its type are
// read.
type Action struct {
	Type    string               `json:"type"`
	Name    string               `json:"name,omitempty"`
	LobbyID string               `json:"lobbyId,omitempty"`
	Rules   *lobby.RuleOverrides `json:"rules,omitempty"`
	Ready   bool                 `json:"ready,omitempty"`
	Asset   string               `json:"asset,omitempty"`
	Side    string               `json:"side,omitempty"`
	Qty     json.Number          `json:"qty,omitempty"`
}

// Replies sent to the originating connection only.

type Hello struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type InviteCode struct {
	Type      string `json:"type"`
	LobbyID   string `json:"lobbyId"`
	InviteURL string `json:"inviteUrl"`
}

type OrderReject struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorReply struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type Pong struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
}

func errorReply(code string) ErrorReply {
	return ErrorReply{Type: "ERROR", Code: code}
}
