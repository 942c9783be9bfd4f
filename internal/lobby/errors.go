package lobby

import (
	"errors"

	"github.com/atmx/trading-arena/internal/execution"
)

var (
	ErrLobbyNotFound    = errors.New("lobby: lobby not found")
	ErrLobbyNotJoinable = errors.New("lobby: lobby not joinable")
	ErrNotHost          = errors.New("lobby: only the host can start the game")
	ErrPlayersNotReady  = errors.New("lobby: players not ready")
	ErrNotRunning       = errors.New("lobby: game not running")
	ErrPlayerNotFound   = errors.New("lobby: player not found")
	ErrNotInLobby       = errors.New("lobby: player is not in a lobby")
	ErrInvalidName      = errors.New("lobby: invalid player name")
)

// Code maps an error returned by this package to the reason code reported
// to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLobbyNotFound):
		return "lobby_not_found"
	case errors.Is(err, ErrLobbyNotJoinable):
		return "lobby_not_joinable"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrPlayersNotReady):
		return "players_not_ready"
	case errors.Is(err, ErrNotRunning):
		return "not_running"
	case errors.Is(err, ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, ErrNotInLobby):
		return "not_in_lobby"
	case errors.Is(err, ErrInvalidName), errors.Is(err, execution.ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, execution.ErrInsufficientCashToShort):
		return "insufficient_cash_to_short"
	case errors.Is(err, execution.ErrInsufficientCash):
		return "insufficient_cash"
	default:
		return "unknown"
	}
}
