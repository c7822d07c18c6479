package dto

// PlaceBetRequest é o payload de POST /v1/bets. RoundID é opcional: se
// vier, a admissão valida contra a rodada corrente (caller com snapshot
// velho recebe 404).
type PlaceBetRequest struct {
	RoundID       uint64 `json:"round_id,omitempty"`
	ParticipantID string `json:"participant_id"`
	Fruit         string `json:"fruit"`
	Stake         int64  `json:"stake"`
}

// AbortRequest é o payload de POST /v1/admin/rounds/{id}/abort
type AbortRequest struct {
	Actor string `json:"actor"`
}
