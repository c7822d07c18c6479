package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/engine/audit"
	"github.com/radieske/fruit-roulette-poc/internal/engine/clock"
	"github.com/radieske/fruit-roulette-poc/internal/engine/ledger"
	"github.com/radieske/fruit-roulette-poc/internal/engine/round"
	"github.com/radieske/fruit-roulette-poc/pkg/contracts/events"
)

var (
	// ErrAbortNotAllowed: abort administrativo só vale em OPEN ou CLOSED.
	ErrAbortNotAllowed = errors.New("abort only allowed while round is open or closed")
	// ErrRoundNotSettled: histórico só cobre rodadas encerradas.
	ErrRoundNotSettled = errors.New("round not settled yet")
)

// OutcomeResolver é o que o engine exige do resolvedor de resultados.
type OutcomeResolver interface {
	Recognizes(fruit string) bool
	Resolve(roundID uint64, seed int64, bets []*ledger.Bet) (winner string, payouts map[string]int64, err error)
}

// Config são os parâmetros operacionais do engine.
type Config struct {
	OpenDuration      time.Duration // janela de apostas (default 30s)
	TickInterval      time.Duration // período do tick em Run (default 1s)
	MaxResolveRetries int           // falhas consecutivas antes do abort (default 3)
	MinStake          int64
	MaxStake          int64
	AuditRejected     bool
	// SeedFunc deriva a seed da rodada no fechamento. A seed fica
	// registrada na auditoria pra permitir re-resolução em disputas.
	SeedFunc func(roundID uint64) int64
}

func (c *Config) defaults() {
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxResolveRetries <= 0 {
		c.MaxResolveRetries = 3
	}
	if c.SeedFunc == nil {
		c.SeedFunc = func(roundID uint64) int64 {
			return time.Now().UnixNano() ^ int64(roundID<<32)
		}
	}
}

// Snapshot é a visão read-only da rodada corrente.
type Snapshot struct {
	RoundID   uint64        `json:"round_id"`
	Phase     round.Phase   `json:"phase"`
	OpenedAt  time.Time     `json:"opened_at"`
	ClosesAt  time.Time     `json:"closes_at"`
	Remaining time.Duration `json:"-"`
	BetsOpen  bool          `json:"bets_open"`
}

// SettledRound é o registro imutável de uma rodada encerrada.
type SettledRound struct {
	Round       round.Round
	Seed        int64
	Bets        []ledger.Bet
	TotalStaked int64
	TotalPaid   int64
}

// Engine orquestra o ciclo completo: dono exclusivo da máquina de
// estados da rodada corrente, do ledger e do arquivamento. Toda mutação
// de fase passa pelo mutex de escrita (tick, abort, settlement, um por
// vez); admissões concorrem só no lock do próprio ledger.
type Engine struct {
	log  *zap.Logger
	clk  clock.Clock
	sink audit.Sink
	res  OutcomeResolver
	cfg  Config

	mu         sync.RWMutex
	cur        *round.Round
	led        *ledger.Ledger
	sealedBets []*ledger.Bet
	seed       int64
	failCount  int
	nextID     uint64

	settled []*SettledRound
	byID    map[uint64]*SettledRound

	subs []func(events.RoundEvent)
}

// New constrói o engine. A primeira rodada abre em Start (ou no
// primeiro Tick), pra nenhum evento escapar dos subscribers.
func New(log *zap.Logger, clk clock.Clock, sink audit.Sink, res OutcomeResolver, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		log:    log,
		clk:    clk,
		sink:   sink,
		res:    res,
		cfg:    cfg,
		nextID: 1,
		byID:   make(map[uint64]*SettledRound),
	}
}

// OnEvent registra um subscriber do hook de broadcast. Entrega
// síncrona, em ordem por rodada, at-least-once; o handler não pode
// bloquear nem chamar de volta o engine.
func (e *Engine) OnEvent(fn func(events.RoundEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// Start abre a primeira rodada. Idempotente.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		e.openNextLocked(e.clk.Now())
	}
}

// Run dirige o engine com um ticker real até o contexto encerrar.
func (e *Engine) Run(ctx context.Context) {
	e.Start()
	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Tick(e.clk.Now())
		}
	}
}

// Tick avança a máquina de estados. Idempotente passado o deadline:
// repetir o tick com o mesmo now não produz transição extra. Falha de
// resolução mantém a rodada em RESOLVING e tenta de novo no próximo
// tick; esgotado o limite, o sistema aborta a rodada.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil {
		e.openNextLocked(now)
		return
	}

	for _, ev := range e.cur.Advance(now) {
		// OPEN -> CLOSED: sela o ledger no mesmo passo em que a fase
		// vira, congelando o conjunto de apostas antes da resolução.
		e.sealedBets = e.led.Seal()
		e.seed = e.cfg.SeedFunc(e.cur.ID)
		e.sink.Record(audit.Entry{
			Ts:     now,
			Actor:  audit.ActorSystem,
			Action: audit.RoundClosed,
			Details: map[string]any{
				"round_id": e.cur.ID,
				"bets":     len(e.sealedBets),
			},
		})
		e.emitLocked(events.RoundEvent{
			Type:     events.TypeRoundClosed,
			RoundID:  ev.RoundID,
			Phase:    string(e.cur.Phase),
			OpenedAt: e.cur.OpenedAt,
			ClosesAt: e.cur.ClosesAt,
			Ts:       now,
		})
	}

	switch e.cur.Phase {
	case round.PhaseOpen:
		e.emitLocked(events.RoundEvent{
			Type:        events.TypeRoundTick,
			RoundID:     e.cur.ID,
			Phase:       string(e.cur.Phase),
			OpenedAt:    e.cur.OpenedAt,
			ClosesAt:    e.cur.ClosesAt,
			RemainingMs: e.cur.Remaining(now).Milliseconds(),
			Ts:          now,
		})
	case round.PhaseClosed:
		if err := e.cur.BeginResolving(); err != nil {
			e.log.Error("begin resolving", zap.Uint64("round_id", e.cur.ID), zap.Error(err))
			return
		}
		e.settleLocked(now)
	case round.PhaseResolving:
		// resolução anterior falhou; tenta de novo
		e.settleLocked(now)
	}
}

// settleLocked resolve, aplica payouts e encerra a rodada corrente.
// Chamado com o lock de escrita; o conjunto de apostas já está selado.
func (e *Engine) settleLocked(now time.Time) {
	winner, payouts, err := e.res.Resolve(e.cur.ID, e.seed, e.sealedBets)
	if err != nil {
		e.failCount++
		e.log.Error("resolve failed",
			zap.Uint64("round_id", e.cur.ID),
			zap.Int("attempt", e.failCount),
			zap.Error(err),
		)
		if e.failCount >= e.cfg.MaxResolveRetries {
			e.log.Error("resolve retries exhausted, aborting round",
				zap.Uint64("round_id", e.cur.ID))
			e.abortLocked(audit.ActorSystem, "resolution failed", now)
		}
		return
	}

	if err := e.cur.MarkResolved(winner, now); err != nil {
		e.log.Error("mark resolved", zap.Uint64("round_id", e.cur.ID), zap.Error(err))
		return
	}
	e.sink.Record(audit.Entry{
		Ts:     now,
		Actor:  audit.ActorSystem,
		Action: audit.RoundResolved,
		Details: map[string]any{
			"round_id":      e.cur.ID,
			"winning_fruit": winner,
			"seed":          e.seed,
		},
	})
	e.emitLocked(events.RoundEvent{
		Type:         events.TypeRoundResolved,
		RoundID:      e.cur.ID,
		Phase:        string(e.cur.Phase),
		OpenedAt:     e.cur.OpenedAt,
		ClosesAt:     e.cur.ClosesAt,
		WinningFruit: winner,
		Seed:         e.seed,
		Ts:           now,
	})

	var staked, paid int64
	for _, b := range e.sealedBets {
		b.Payout = payouts[b.ID]
		staked += b.Stake
		paid += b.Payout
	}

	if err := e.cur.MarkSettled(); err != nil {
		e.log.Error("mark settled", zap.Uint64("round_id", e.cur.ID), zap.Error(err))
		return
	}
	e.archiveLocked(staked, paid)
	e.sink.Record(audit.Entry{
		Ts:     now,
		Actor:  audit.ActorSystem,
		Action: audit.RoundSettled,
		Details: map[string]any{
			"round_id":      e.cur.ID,
			"winning_fruit": winner,
			"total_staked":  staked,
			"total_paid":    paid,
		},
	})
	e.emitLocked(e.settledEventLocked(now))

	e.log.Info("round settled",
		zap.Uint64("round_id", e.cur.ID),
		zap.String("winning_fruit", winner),
		zap.Int64("total_staked", staked),
		zap.Int64("total_paid", paid),
	)

	e.openNextLocked(now)
}

// abortLocked aplica o atalho de abort: toda aposta pendente vira
// REJECTED sem payout, a rodada vai direto a SETTLED e a próxima abre.
func (e *Engine) abortLocked(actor, reason string, now time.Time) {
	bets := e.led.Seal()
	for _, b := range bets {
		b.Status = ledger.StatusRejected
		b.Payout = 0
		e.sink.Record(audit.Entry{
			Ts:     now,
			Actor:  actor,
			Action: audit.BetRejected,
			Details: map[string]any{
				"round_id": e.cur.ID,
				"bet_id":   b.ID,
				"stake":    b.Stake,
				"reason":   "round aborted: " + reason,
			},
		})
	}
	e.sealedBets = bets

	if err := e.cur.Abort(); err != nil {
		e.log.Error("abort", zap.Uint64("round_id", e.cur.ID), zap.Error(err))
		return
	}
	e.archiveLocked(0, 0)
	e.sink.Record(audit.Entry{
		Ts:     now,
		Actor:  actor,
		Action: audit.RoundSettled,
		Details: map[string]any{
			"round_id": e.cur.ID,
			"aborted":  true,
			"reason":   reason,
			"bets":     len(bets),
		},
	})
	e.emitLocked(e.settledEventLocked(now))

	e.log.Warn("round aborted",
		zap.Uint64("round_id", e.cur.ID),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)

	e.openNextLocked(now)
}

// archiveLocked congela a rodada corrente no histórico imutável.
func (e *Engine) archiveLocked(staked, paid int64) {
	bets := make([]ledger.Bet, 0, len(e.sealedBets))
	for _, b := range e.sealedBets {
		bets = append(bets, *b)
	}
	sr := &SettledRound{
		Round:       *e.cur,
		Seed:        e.seed,
		Bets:        bets,
		TotalStaked: staked,
		TotalPaid:   paid,
	}
	e.settled = append(e.settled, sr)
	e.byID[sr.Round.ID] = sr
}

// settledEventLocked monta o evento de settlement com o conjunto final
// de apostas (consumido pelo audit-worker para arquivamento durável).
func (e *Engine) settledEventLocked(now time.Time) events.RoundEvent {
	out := events.RoundEvent{
		Type:         events.TypeRoundSettled,
		RoundID:      e.cur.ID,
		Phase:        string(e.cur.Phase),
		OpenedAt:     e.cur.OpenedAt,
		ClosesAt:     e.cur.ClosesAt,
		WinningFruit: e.cur.WinningFruit,
		Seed:         e.seed,
		Aborted:      e.cur.Aborted,
		Ts:           now,
	}
	for _, b := range e.sealedBets {
		if b.Status == ledger.StatusAdmitted {
			out.TotalStaked += b.Stake
			out.TotalPaid += b.Payout
		}
		out.Bets = append(out.Bets, events.SettledBet{
			BetID:         b.ID,
			ParticipantID: b.ParticipantID,
			Fruit:         b.Fruit,
			Stake:         b.Stake,
			Status:        b.Status,
			Payout:        b.Payout,
			PlacedAtMs:    b.PlacedAt.UnixMilli(),
		})
	}
	return out
}

// openNextLocked abre a próxima rodada com id novo e janela cheia.
func (e *Engine) openNextLocked(now time.Time) {
	id := e.nextID
	e.nextID++

	closesAt := now.Add(e.cfg.OpenDuration)
	r, err := round.New(id, now, closesAt)
	if err != nil {
		// OpenDuration validado nos defaults; não acontece
		e.log.Error("open round", zap.Uint64("round_id", id), zap.Error(err))
		return
	}
	e.cur = r
	e.led = ledger.New(id, ledger.Options{
		ClosesAt:      closesAt,
		MinStake:      e.cfg.MinStake,
		MaxStake:      e.cfg.MaxStake,
		Recognizes:    e.res.Recognizes,
		AuditRejected: e.cfg.AuditRejected,
	}, e.sink)
	e.sealedBets = nil
	e.seed = 0
	e.failCount = 0

	e.sink.Record(audit.Entry{
		Ts:     now,
		Actor:  audit.ActorSystem,
		Action: audit.RoundOpened,
		Details: map[string]any{
			"round_id":  id,
			"closes_at": closesAt,
		},
	})
	e.emitLocked(events.RoundEvent{
		Type:        events.TypeRoundOpened,
		RoundID:     id,
		Phase:       string(round.PhaseOpen),
		OpenedAt:    now,
		ClosesAt:    closesAt,
		RemainingMs: e.cfg.OpenDuration.Milliseconds(),
		Ts:          now,
	})

	e.log.Info("round opened",
		zap.Uint64("round_id", id),
		zap.Time("closes_at", closesAt),
	)
}

func (e *Engine) emitLocked(ev events.RoundEvent) {
	for _, fn := range e.subs {
		fn(ev)
	}
}

// PlaceBet delega a admissão ao ledger da rodada corrente. Erros do
// ledger sobem inalterados; nada aqui mexe em fase de rodada.
func (e *Engine) PlaceBet(participantID, fruit string, stake int64) (string, error) {
	e.mu.RLock()
	led := e.led
	var roundID uint64
	if e.cur != nil {
		roundID = e.cur.ID
	}
	e.mu.RUnlock()

	if led == nil {
		return "", fmt.Errorf("no open round: %w", ledger.ErrUnknownRound)
	}
	return led.Submit(roundID, participantID, fruit, stake, e.clk.Now())
}

// PlaceBetOnRound admite uma aposta referenciando um roundId explícito
// (callers que seguram snapshot antigo recebem ErrUnknownRound).
func (e *Engine) PlaceBetOnRound(roundID uint64, participantID, fruit string, stake int64) (string, error) {
	e.mu.RLock()
	led := e.led
	e.mu.RUnlock()

	if led == nil {
		return "", fmt.Errorf("no open round: %w", ledger.ErrUnknownRound)
	}
	return led.Submit(roundID, participantID, fruit, stake, e.clk.Now())
}

// CurrentRound devolve o estado comitado mais recente. Sempre sucede.
func (e *Engine) CurrentRound() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cur == nil {
		return Snapshot{}
	}
	now := e.clk.Now()
	return Snapshot{
		RoundID:   e.cur.ID,
		Phase:     e.cur.Phase,
		OpenedAt:  e.cur.OpenedAt,
		ClosesAt:  e.cur.ClosesAt,
		Remaining: e.cur.Remaining(now),
		BetsOpen:  e.cur.BetsOpen(now),
	}
}

// Bets lista as apostas da rodada corrente (projeção read-only).
func (e *Engine) Bets(roundID uint64) []ledger.Bet {
	e.mu.RLock()
	led := e.led
	e.mu.RUnlock()
	if led == nil {
		return nil
	}
	return led.ListByRound(roundID)
}

// BetsByParticipant lista as apostas do participante na rodada corrente.
func (e *Engine) BetsByParticipant(participantID string) []ledger.Bet {
	e.mu.RLock()
	led := e.led
	e.mu.RUnlock()
	if led == nil {
		return nil
	}
	return led.ListByParticipant(participantID)
}

// History devolve as apostas de uma rodada encerrada, em ordem de
// admissão. Rodada corrente ainda não conta como histórico.
func (e *Engine) History(roundID uint64) ([]ledger.Bet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if sr, ok := e.byID[roundID]; ok {
		out := make([]ledger.Bet, len(sr.Bets))
		copy(out, sr.Bets)
		return out, nil
	}
	if e.cur != nil && e.cur.ID == roundID {
		return nil, fmt.Errorf("round %d: %w", roundID, ErrRoundNotSettled)
	}
	return nil, fmt.Errorf("round %d: %w", roundID, ledger.ErrUnknownRound)
}

// SettledRound devolve o registro completo de uma rodada encerrada.
func (e *Engine) SettledRound(roundID uint64) (SettledRound, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if sr, ok := e.byID[roundID]; ok {
		return *sr, nil
	}
	if e.cur != nil && e.cur.ID == roundID {
		return SettledRound{}, fmt.Errorf("round %d: %w", roundID, ErrRoundNotSettled)
	}
	return SettledRound{}, fmt.Errorf("round %d: %w", roundID, ledger.ErrUnknownRound)
}

// ForceAbort aplica o abort administrativo na rodada corrente.
func (e *Engine) ForceAbort(roundID uint64, actor string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || e.cur.ID != roundID {
		return fmt.Errorf("round %d: %w", roundID, ledger.ErrUnknownRound)
	}
	if e.cur.Phase != round.PhaseOpen && e.cur.Phase != round.PhaseClosed {
		return fmt.Errorf("round %d in %s: %w", roundID, e.cur.Phase, ErrAbortNotAllowed)
	}
	e.abortLocked(actor, "administrative abort", e.clk.Now())
	return nil
}
