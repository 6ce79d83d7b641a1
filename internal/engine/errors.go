package engine

import (
	"errors"
	"fmt"

	"github.com/stockpit/portfolio-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy's total cost, fee
	// included, exceeds the portfolio's available cash.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell asks for more
	// shares than the portfolio owns.
	ErrInsufficientHoldings = errors.New("engine: insufficient holdings")

	// ErrMarketClosed is returned when a trade is attempted outside
	// exchange hours.
	ErrMarketClosed = errors.New("engine: market is closed")

	// ErrGameNotActive is returned when a trade or order targets a game
	// that is not in progress.
	ErrGameNotActive = errors.New("engine: game is not in progress")

	// ErrWrongPassword is returned when joining a private game with a
	// bad password.
	ErrWrongPassword = errors.New("engine: incorrect game password")

	// ErrAlreadyJoined is returned when a user already has a portfolio
	// in the game.
	ErrAlreadyJoined = errors.New("engine: user already joined this game")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TerminalStateError is returned when an operation targets an order that
// has already reached a terminal status.
type TerminalStateError struct {
	OrderID string
	Status  model.OrderStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("order %s is already %s", e.OrderID, e.Status)
}
