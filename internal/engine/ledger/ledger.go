package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/fruit-roulette-poc/internal/engine/audit"
)

// Status de uma aposta no ledger.
const (
	StatusAdmitted = "ADMITTED"
	StatusRejected = "REJECTED"
)

var (
	// ErrRoundClosed: aposta chegou depois do fechamento da janela.
	ErrRoundClosed = errors.New("round closed for betting")
	// ErrInvalidStake: valor fora dos limites ou fruta desconhecida.
	ErrInvalidStake = errors.New("invalid stake")
	// ErrUnknownRound: o roundId não é o da rodada corrente.
	ErrUnknownRound = errors.New("unknown round")
)

// Bet é uma aposta admitida na rodada corrente. Mutada uma única vez,
// no settlement, para receber o payout.
type Bet struct {
	ID            string
	RoundID       uint64
	ParticipantID string
	Fruit         string
	Stake         int64
	PlacedAt      time.Time
	Status        string
	Payout        int64
}

// Options controla validação e auditoria da admissão.
type Options struct {
	// ClosesAt é o deadline da janela de apostas. A admissão rejeita a
	// partir deste instante mesmo antes do tick que sela o ledger, pra
	// não existir a janela "deadline vencido mas ainda aberto".
	ClosesAt time.Time

	MinStake int64
	MaxStake int64 // 0 = sem teto
	// Recognizes valida a fruta contra o catálogo configurado.
	Recognizes func(fruit string) bool
	// AuditRejected liga o registro de tentativas rejeitadas.
	AuditRejected bool
}

// Ledger guarda as apostas da rodada corrente e faz o controle de
// admissão. O mutex único protege {verificação de selo, inserção} como
// um passo atômico: é isso que lineariza a admissão com a transição
// OPEN -> CLOSED feita pelo engine via Seal.
type Ledger struct {
	mu      sync.Mutex
	roundID uint64
	sealed  bool
	bets    []*Bet
	byID    map[string]*Bet

	opts Options
	sink audit.Sink
}

// New cria o ledger de uma rodada recém-aberta.
func New(roundID uint64, opts Options, sink audit.Sink) *Ledger {
	return &Ledger{
		roundID: roundID,
		byID:    make(map[string]*Bet),
		opts:    opts,
		sink:    sink,
	}
}

// Submit tenta admitir uma aposta. A validação e a inserção acontecem
// sob o mesmo lock que Seal usa, então nenhuma aposta entra depois que
// a rodada fechou logicamente, mesmo com submissões concorrentes.
func (l *Ledger) Submit(roundID uint64, participantID, fruit string, stake int64, now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if roundID != l.roundID {
		return "", l.reject(participantID, fruit, stake, now,
			fmt.Errorf("round %d: %w", roundID, ErrUnknownRound))
	}
	if stake < l.opts.MinStake || stake <= 0 {
		return "", l.reject(participantID, fruit, stake, now,
			fmt.Errorf("stake %d below minimum %d: %w", stake, l.opts.MinStake, ErrInvalidStake))
	}
	if l.opts.MaxStake > 0 && stake > l.opts.MaxStake {
		return "", l.reject(participantID, fruit, stake, now,
			fmt.Errorf("stake %d above maximum %d: %w", stake, l.opts.MaxStake, ErrInvalidStake))
	}
	if l.opts.Recognizes != nil && !l.opts.Recognizes(fruit) {
		return "", l.reject(participantID, fruit, stake, now,
			fmt.Errorf("unknown fruit %q: %w", fruit, ErrInvalidStake))
	}
	if l.sealed || !now.Before(l.opts.ClosesAt) {
		return "", l.reject(participantID, fruit, stake, now,
			fmt.Errorf("round %d: %w", roundID, ErrRoundClosed))
	}

	b := &Bet{
		ID:            uuid.NewString(),
		RoundID:       l.roundID,
		ParticipantID: participantID,
		Fruit:         fruit,
		Stake:         stake,
		PlacedAt:      now,
		Status:        StatusAdmitted,
	}
	l.bets = append(l.bets, b)
	l.byID[b.ID] = b

	if l.sink != nil {
		l.sink.Record(audit.Entry{
			Ts:     now,
			Actor:  participantID,
			Action: audit.BetAdmitted,
			Details: map[string]any{
				"round_id": l.roundID,
				"bet_id":   b.ID,
				"fruit":    fruit,
				"stake":    stake,
			},
		})
	}
	return b.ID, nil
}

// reject registra a tentativa (se configurado) e devolve o erro ao caller.
func (l *Ledger) reject(participantID, fruit string, stake int64, now time.Time, err error) error {
	if l.opts.AuditRejected && l.sink != nil {
		l.sink.Record(audit.Entry{
			Ts:     now,
			Actor:  participantID,
			Action: audit.BetRejected,
			Details: map[string]any{
				"round_id": l.roundID,
				"fruit":    fruit,
				"stake":    stake,
				"reason":   err.Error(),
			},
		})
	}
	return err
}

// Seal fecha a admissão de forma atômica e devolve o conjunto final de
// apostas. Depois do Seal nenhum Submit tem sucesso, mesmo por uma
// referência antiga ao ledger, e o conjunto retornado não muda mais,
// então o resolvedor pode ler sem lock.
func (l *Ledger) Seal() []*Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	return l.bets
}

// Sealed informa se a admissão já foi encerrada.
func (l *Ledger) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

// RoundID é a rodada rastreada por este ledger.
func (l *Ledger) RoundID() uint64 { return l.roundID }

// ListByRound devolve cópias das apostas da rodada, em ordem de inserção.
func (l *Ledger) ListByRound(roundID uint64) []Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	if roundID != l.roundID {
		return nil
	}
	out := make([]Bet, 0, len(l.bets))
	for _, b := range l.bets {
		out = append(out, *b)
	}
	return out
}

// ListByParticipant devolve cópias das apostas de um participante, em
// ordem de inserção.
func (l *Ledger) ListByParticipant(participantID string) []Bet {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Bet
	for _, b := range l.bets {
		if b.ParticipantID == participantID {
			out = append(out, *b)
		}
	}
	return out
}
