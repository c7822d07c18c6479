package round

import (
	"errors"
	"fmt"
	"time"
)

// Phase é a posição da rodada no ciclo de vida.
type Phase string

const (
	PhaseOpen      Phase = "OPEN"
	PhaseClosed    Phase = "CLOSED"
	PhaseResolving Phase = "RESOLVING"
	PhaseResolved  Phase = "RESOLVED"
	PhaseSettled   Phase = "SETTLED"
)

var (
	ErrBadWindow = errors.New("closesAt must be after openedAt")
	// ErrBadTransition indica uma transição fora da ordem permitida.
	ErrBadTransition = errors.New("invalid phase transition")
)

// Event é a notificação de mudança de fase produzida por uma transição.
type Event struct {
	RoundID uint64
	From    Phase
	To      Phase
	At      time.Time
}

// Round é a máquina de estados de uma rodada. Lógica pura, sem I/O;
// quem serializa acesso é o engine, dono exclusivo da instância.
// Fases: OPEN -> CLOSED -> RESOLVING -> RESOLVED -> SETTLED, sem pular
// nem voltar. Abort leva direto a SETTLED.
type Round struct {
	ID           uint64
	Phase        Phase
	OpenedAt     time.Time
	ClosesAt     time.Time
	ResolvedAt   time.Time // zero até a resolução
	WinningFruit string    // vazio até a resolução
	Aborted      bool
}

// New abre uma rodada em OPEN com janela [openedAt, closesAt).
func New(id uint64, openedAt, closesAt time.Time) (*Round, error) {
	if !closesAt.After(openedAt) {
		return nil, fmt.Errorf("round %d: %w", id, ErrBadWindow)
	}
	return &Round{
		ID:       id,
		Phase:    PhaseOpen,
		OpenedAt: openedAt,
		ClosesAt: closesAt,
	}, nil
}

// Advance aplica a única transição dirigida por tempo: OPEN -> CLOSED
// quando now >= ClosesAt. Idempotente: chamadas repetidas depois do
// deadline não produzem novos eventos.
func (r *Round) Advance(now time.Time) []Event {
	if r.Phase == PhaseOpen && !now.Before(r.ClosesAt) {
		r.Phase = PhaseClosed
		return []Event{{RoundID: r.ID, From: PhaseOpen, To: PhaseClosed, At: now}}
	}
	return nil
}

// BetsOpen informa se a rodada ainda admite apostas no instante now.
func (r *Round) BetsOpen(now time.Time) bool {
	return r.Phase == PhaseOpen && now.Before(r.ClosesAt)
}

// Remaining é o tempo de janela restante (zero se já fechou).
func (r *Round) Remaining(now time.Time) time.Duration {
	if r.Phase != PhaseOpen {
		return 0
	}
	d := r.ClosesAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// BeginResolving marca o início do cálculo do resultado (dirigido pelo
// engine, não por tempo).
func (r *Round) BeginResolving() error {
	if r.Phase != PhaseClosed {
		return fmt.Errorf("round %d: %s -> RESOLVING: %w", r.ID, r.Phase, ErrBadTransition)
	}
	r.Phase = PhaseResolving
	return nil
}

// MarkResolved registra a fruta vencedora. Só válido em RESOLVING.
func (r *Round) MarkResolved(fruit string, at time.Time) error {
	if r.Phase != PhaseResolving {
		return fmt.Errorf("round %d: %s -> RESOLVED: %w", r.ID, r.Phase, ErrBadTransition)
	}
	r.Phase = PhaseResolved
	r.WinningFruit = fruit
	r.ResolvedAt = at
	return nil
}

// MarkSettled encerra a rodada depois que os payouts foram aplicados.
func (r *Round) MarkSettled() error {
	if r.Phase != PhaseResolved {
		return fmt.Errorf("round %d: %s -> SETTLED: %w", r.ID, r.Phase, ErrBadTransition)
	}
	r.Phase = PhaseSettled
	return nil
}

// Abort leva a rodada direto a SETTLED sem payouts. Permitido em OPEN e
// CLOSED (abort administrativo) e em RESOLVING (escalada interna após
// falhas consecutivas de resolução).
func (r *Round) Abort() error {
	switch r.Phase {
	case PhaseOpen, PhaseClosed, PhaseResolving:
		r.Phase = PhaseSettled
		r.Aborted = true
		return nil
	default:
		return fmt.Errorf("round %d: abort from %s: %w", r.ID, r.Phase, ErrBadTransition)
	}
}
