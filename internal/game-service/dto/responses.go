package dto

import "time"

// CurrentRoundResponse espelha o snapshot da rodada corrente
type CurrentRoundResponse struct {
	RoundID     uint64    `json:"round_id"`
	Phase       string    `json:"phase"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosesAt    time.Time `json:"closes_at"`
	RemainingMs int64     `json:"remaining_ms"`
	BetsOpen    bool      `json:"bets_open"`
}

// PlaceBetResponse confirma a admissão de uma aposta
type PlaceBetResponse struct {
	BetID   string `json:"bet_id"`
	RoundID uint64 `json:"round_id"`
	Status  string `json:"status"`
}

// BetView é a projeção de uma aposta nos endpoints de leitura
type BetView struct {
	BetID         string    `json:"bet_id"`
	RoundID       uint64    `json:"round_id"`
	ParticipantID string    `json:"participant_id"`
	Fruit         string    `json:"fruit"`
	Stake         int64     `json:"stake"`
	PlacedAt      time.Time `json:"placed_at"`
	Status        string    `json:"status"`
	Payout        int64     `json:"payout"`
}

// RoundHistoryResponse é a resposta de GET /v1/rounds/{id}/bets
type RoundHistoryResponse struct {
	RoundID      uint64    `json:"round_id"`
	WinningFruit string    `json:"winning_fruit,omitempty"`
	Aborted      bool      `json:"aborted,omitempty"`
	TotalStaked  int64     `json:"total_staked"`
	TotalPaid    int64     `json:"total_paid"`
	Bets         []BetView `json:"bets"`
}

// FruitView expõe o catálogo em GET /v1/fruits
type FruitView struct {
	Name       string  `json:"name"`
	Multiplier int64   `json:"multiplier"`
	Weight     float64 `json:"weight"`
}

// ErrorResponse padroniza erros da API
type ErrorResponse struct {
	Error string `json:"error"`
}
