package events

import "time"

// Tipos de evento publicados no tópico "round_events"
const (
	TypeRoundOpened   = "round_opened"
	TypeRoundTick     = "round_tick"
	TypeRoundClosed   = "round_closed"
	TypeRoundResolved = "round_resolved"
	TypeRoundSettled  = "round_settled"
)

// RoundEvent é o evento emitido pelo engine a cada transição de fase.
// Settlement (TypeRoundSettled) carrega o conjunto final de apostas
// para arquivamento pelo audit-worker.
type RoundEvent struct {
	Type         string       `json:"type"`
	RoundID      uint64       `json:"round_id"`
	Phase        string       `json:"phase"`
	OpenedAt     time.Time    `json:"opened_at"`
	ClosesAt     time.Time    `json:"closes_at"`
	RemainingMs  int64        `json:"remaining_ms,omitempty"`
	WinningFruit string       `json:"winning_fruit,omitempty"`
	Seed         int64        `json:"seed,omitempty"`
	Aborted      bool         `json:"aborted,omitempty"`
	TotalStaked  int64        `json:"total_staked,omitempty"`
	TotalPaid    int64        `json:"total_paid,omitempty"`
	Bets         []SettledBet `json:"bets,omitempty"`
	Ts           time.Time    `json:"ts"`
}

// SettledBet é a visão imutável de uma aposta após settlement.
type SettledBet struct {
	BetID         string `json:"bet_id"`
	ParticipantID string `json:"participant_id"`
	Fruit         string `json:"fruit"`
	Stake         int64  `json:"stake"`
	Status        string `json:"status"` // "ADMITTED" | "REJECTED"
	Payout        int64  `json:"payout"`
	PlacedAtMs    int64  `json:"placed_at_ms"`
}
