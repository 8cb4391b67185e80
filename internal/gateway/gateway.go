// Package gateway is the bot's door to the remote game service: the control
// and per-game event streams plus the actions the bot can take. Callers
// depend on the Gateway interface; Client is the websocket/HTTP
// implementation.
package gateway

import (
	"context"

	"github.com/lox/blunderbot/internal/protocol"
)

// Gateway exposes the remote service's capability set. Streams are returned
// as receive-only channels that close when the underlying stream fails or
// ends; consumers treat closure as stream failure and never see a partial
// event. All methods block only the calling goroutine.
type Gateway interface {
	// Connect opens the long-lived control stream.
	Connect(ctx context.Context) (<-chan protocol.ControlEvent, error)

	// OpenGame opens the update stream for one game.
	OpenGame(ctx context.Context, gameID string) (<-chan protocol.GameEvent, error)

	AcceptChallenge(ctx context.Context, challengeID string) error
	DeclineChallenge(ctx context.Context, challengeID string, reason protocol.DeclineReason) error

	Move(ctx context.Context, gameID, uci string) error
	Chat(ctx context.Context, gameID, text string) error
	Resign(ctx context.Context, gameID string) error
	HandleDrawOffer(ctx context.Context, gameID string, accept bool) error
	ClaimDraw(ctx context.Context, gameID string) error
}
