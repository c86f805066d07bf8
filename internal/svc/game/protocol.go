package game

import (
	"github.com/sugawarayuuta/sonnet"
)

// Game wire messages. Clients send newline-framed JSON; the framing
// is the game's choice, the runtime hands raw bytes.

// ClientMessage is what a player sends.
type ClientMessage struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

// ServerMessage is what the server sends.
type ServerMessage struct {
	Event    string `json:"event"`
	BattleID uint64 `json:"battle_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// Event and action names of the game protocol.
const (
	ActionMove = "move"

	ServerEventWaiting     = "waiting"
	ServerEventBattleStart = "battle_start"
	ServerEventResult      = "result"

	OutcomeWin  = "win"
	OutcomeLose = "lose"
	OutcomeDraw = "draw"
)

// Battle coordination events between the match and battle runners.
const (
	EventBattleStart = "battle_start"

	KeyBattleID = "battle_id"
	KeyPlayer1  = "player1"
	KeyPlayer2  = "player2"
)

func encodeServerMessage(msg ServerMessage) []byte {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		// ServerMessage holds only scalars; Marshal cannot fail on it.
		return []byte("{}")
	}
	return append(data, '\n')
}

func decodeClientMessage(data []byte) (ClientMessage, bool) {
	var msg ClientMessage
	if err := sonnet.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, false
	}
	return msg, true
}
