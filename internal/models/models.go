// Package models defines the core domain types shared across the simulation
// and learning-support packages.
package models

import (
	"fmt"
	"time"
)

// Action is a discrete trading decision.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// String returns the human-readable action name.
func (a Action) String() string {
	switch a {
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("ACTION(%d)", int(a))
	}
}

// Valid reports whether the action is one of HOLD/BUY/SELL.
func (a Action) Valid() bool {
	return a >= Hold && a <= Sell
}

// OrderSide represents the direction of an order handed to the risk governor.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Bar is a single OHLCV candle.
type Bar struct {
	Timestamp time.Time `csv:"-"`
	Open      float64   `csv:"open"`
	High      float64   `csv:"high"`
	Low       float64   `csv:"low"`
	Close     float64   `csv:"close"`
	Volume    float64   `csv:"volume"`
}

// TradeRecord describes an executed simulated trade. It is the artifact
// handed downstream for real order placement; the core never talks to a
// broker directly.
type TradeRecord struct {
	Step   int
	Action Action
	Price  float64
	Units  float64
	Fee    float64
	PnL    float64 // realized, nonzero only on SELL
}

// EpisodeOutcome summarizes a finished episode for curriculum tracking.
type EpisodeOutcome struct {
	TotalReturn float64
	WinRate     float64
	NumTrades   int
}

// Observation is a feature vector extended with account state.
type Observation []float64

// Clone returns a copy so stored observations cannot alias live buffers.
func (o Observation) Clone() Observation {
	c := make(Observation, len(o))
	copy(c, o)
	return c
}
