package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/lox/blunderbot/internal/protocol"
)

// ChessProvider implements Provider on top of the chess rules engine.
type ChessProvider struct{}

// NewChessProvider returns the standard chess rules provider.
func NewChessProvider() ChessProvider { return ChessProvider{} }

// StartingPosition builds a position from FEN, or the standard initial
// position for "" / "startpos".
func (ChessProvider) StartingPosition(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return &chessPosition{game: nchess.NewGame()}, nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &chessPosition{game: nchess.NewGame(opt)}, nil
}

type chessPosition struct {
	game *nchess.Game
}

func (p *chessPosition) Apply(uci string) error {
	if err := p.game.PushNotationMove(strings.ToLower(uci), nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("apply move %q: %w", uci, err)
	}
	return nil
}

func (p *chessPosition) LegalMoves() []string {
	valid := p.game.ValidMoves()
	moves := make([]string, 0, len(valid))
	for _, mv := range valid {
		moves = append(moves, strings.ToLower(mv.String()))
	}
	return moves
}

func (p *chessPosition) SAN(uci string) (string, error) {
	pos := p.game.Position()
	notation := nchess.UCINotation{}
	mv, err := notation.Decode(pos, strings.ToLower(uci))
	if err != nil {
		return "", fmt.Errorf("decode move %q: %w", uci, err)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}

func (p *chessPosition) FEN() string {
	return p.game.FEN()
}

func (p *chessPosition) Status() Status {
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return Status{Kind: Decisive, Winner: protocol.White, Reason: p.game.Method().String()}
	case nchess.BlackWon:
		return Status{Kind: Decisive, Winner: protocol.Black, Reason: p.game.Method().String()}
	case nchess.Draw:
		return Status{Kind: Drawn, Reason: p.game.Method().String()}
	}
	return Status{Kind: Ongoing}
}

func (p *chessPosition) SideToMove() protocol.Color {
	if p.game.Position().Turn() == nchess.White {
		return protocol.White
	}
	return protocol.Black
}
