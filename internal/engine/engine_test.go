package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/engine/audit"
	"github.com/radieske/fruit-roulette-poc/internal/engine/clock"
	"github.com/radieske/fruit-roulette-poc/internal/engine/ledger"
	"github.com/radieske/fruit-roulette-poc/internal/engine/resolver"
	"github.com/radieske/fruit-roulette-poc/internal/engine/round"
	"github.com/radieske/fruit-roulette-poc/pkg/contracts/events"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *resolver.Resolver {
	t.Helper()
	r, err := resolver.New([]resolver.Fruit{
		{Name: "mango", Multiplier: 5, Weight: 1},
		{Name: "cherry", Multiplier: 4, Weight: 1},
		{Name: "melon", Multiplier: 12, Weight: 1},
	})
	require.NoError(t, err)
	return r
}

// flakyResolver falha as primeiras N resoluções e depois delega.
type flakyResolver struct {
	*resolver.Resolver
	mu       sync.Mutex
	failures int
}

func (f *flakyResolver) Resolve(roundID uint64, seed int64, bets []*ledger.Bet) (string, map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", nil, errors.New("rng backend unavailable")
	}
	return f.Resolver.Resolve(roundID, seed, bets)
}

type fixture struct {
	eng  *Engine
	clk  *clock.Manual
	sink *audit.MemorySink
}

func newFixture(t *testing.T, res OutcomeResolver) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	sink := audit.NewMemorySink()
	eng := New(zap.NewNop(), clk, sink, res, Config{
		OpenDuration:      30 * time.Second,
		MaxResolveRetries: 3,
		MinStake:          10,
		MaxStake:          500000,
		AuditRejected:     true,
		SeedFunc:          func(uint64) int64 { return 42 },
	})
	eng.Start()
	return &fixture{eng: eng, clk: clk, sink: sink}
}

// Cenário de referência: aposta admitida em t=5s, tentativa em t=31s
// rejeitada, tick(31s) fecha, resolve com seed 42 e liquida.
func TestRoundScenario(t *testing.T) {
	res := testCatalog(t)
	f := newFixture(t, res)

	snap := f.eng.CurrentRound()
	assert.Equal(t, uint64(1), snap.RoundID)
	assert.Equal(t, round.PhaseOpen, snap.Phase)
	assert.True(t, snap.BetsOpen)
	assert.Equal(t, 30*time.Second, snap.Remaining)

	f.clk.Set(t0.Add(5 * time.Second))
	betA, err := f.eng.PlaceBet("participant-1", "mango", 10)
	require.NoError(t, err)

	f.clk.Set(t0.Add(31 * time.Second))
	_, err = f.eng.PlaceBet("participant-2", "mango", 10)
	require.ErrorIs(t, err, ledger.ErrRoundClosed, "past the deadline, before the tick")

	f.eng.Tick(t0.Add(31 * time.Second))

	// rodada 1 liquidada, rodada 2 aberta com janela cheia
	snap = f.eng.CurrentRound()
	assert.Equal(t, uint64(2), snap.RoundID)
	assert.Equal(t, round.PhaseOpen, snap.Phase)
	assert.Equal(t, t0.Add(61*time.Second), snap.ClosesAt)

	sr, err := f.eng.SettledRound(1)
	require.NoError(t, err)
	assert.Equal(t, round.PhaseSettled, sr.Round.Phase)
	assert.False(t, sr.Round.Aborted)
	assert.True(t, res.Recognizes(sr.Round.WinningFruit))
	assert.Equal(t, int64(42), sr.Seed, "seed fixada pela config")

	bets, err := f.eng.History(1)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, betA, bets[0].ID)
	if sr.Round.WinningFruit == "mango" {
		assert.Equal(t, int64(50), bets[0].Payout)
	} else {
		assert.Zero(t, bets[0].Payout)
	}

	// resolução reproduzível: mesma seed e mesmo conjunto => mesma fruta
	w, _, err := res.Resolve(1, sr.Seed, nil)
	require.NoError(t, err)
	assert.Equal(t, sr.Round.WinningFruit, w)
}

func TestTickIdempotentPastDeadline(t *testing.T) {
	f := newFixture(t, testCatalog(t))

	now := t0.Add(31 * time.Second)
	f.clk.Set(now)
	f.eng.Tick(now)
	f.eng.Tick(now)

	assert.Len(t, f.sink.ByAction(audit.RoundClosed), 1, "CLOSED happens exactly once")
	assert.Len(t, f.sink.ByAction(audit.RoundSettled), 1)
	assert.Equal(t, uint64(2), f.eng.CurrentRound().RoundID)
}

func TestPhaseTransitionAuditTrail(t *testing.T) {
	f := newFixture(t, testCatalog(t))

	f.clk.Set(t0.Add(2 * time.Second))
	_, err := f.eng.PlaceBet("p1", "cherry", 100)
	require.NoError(t, err)

	f.clk.Set(t0.Add(30 * time.Second))
	f.eng.Tick(t0.Add(30 * time.Second))

	var actions []audit.Action
	for _, e := range f.sink.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []audit.Action{
		audit.RoundOpened,
		audit.BetAdmitted,
		audit.RoundClosed,
		audit.RoundResolved,
		audit.RoundSettled,
		audit.RoundOpened,
	}, actions)
}

func TestStaleRoundReference(t *testing.T) {
	f := newFixture(t, testCatalog(t))

	_, err := f.eng.PlaceBetOnRound(1, "p1", "mango", 10)
	require.NoError(t, err)

	f.clk.Set(t0.Add(31 * time.Second))
	f.eng.Tick(t0.Add(31 * time.Second))

	// caller ainda segurando round 1
	_, err = f.eng.PlaceBetOnRound(1, "p1", "mango", 10)
	assert.ErrorIs(t, err, ledger.ErrUnknownRound)
}

func TestResolutionRetryThenRecovery(t *testing.T) {
	flaky := &flakyResolver{Resolver: testCatalog(t), failures: 2}
	f := newFixture(t, flaky)

	f.clk.Set(t0.Add(31 * time.Second))
	f.eng.Tick(t0.Add(31 * time.Second)) // fecha + 1a falha
	assert.Equal(t, uint64(1), f.eng.CurrentRound().RoundID)
	assert.Equal(t, round.PhaseResolving, f.eng.CurrentRound().Phase)

	f.eng.Tick(t0.Add(32 * time.Second)) // 2a falha
	assert.Equal(t, round.PhaseResolving, f.eng.CurrentRound().Phase)

	f.eng.Tick(t0.Add(33 * time.Second)) // sucesso
	sr, err := f.eng.SettledRound(1)
	require.NoError(t, err)
	assert.False(t, sr.Round.Aborted)
	assert.Equal(t, uint64(2), f.eng.CurrentRound().RoundID)
}

func TestResolutionFailureEscalatesToAbort(t *testing.T) {
	flaky := &flakyResolver{Resolver: testCatalog(t), failures: 100}
	f := newFixture(t, flaky)

	f.clk.Set(t0.Add(3 * time.Second))
	_, err := f.eng.PlaceBet("p1", "melon", 500)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now := t0.Add(time.Duration(31+i) * time.Second)
		f.clk.Set(now)
		f.eng.Tick(now)
	}

	sr, err := f.eng.SettledRound(1)
	require.NoError(t, err)
	assert.True(t, sr.Round.Aborted)
	assert.Empty(t, sr.Round.WinningFruit)
	require.Len(t, sr.Bets, 1)
	assert.Equal(t, ledger.StatusRejected, sr.Bets[0].Status)
	assert.Zero(t, sr.Bets[0].Payout)

	rejected := f.sink.ByAction(audit.BetRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, audit.ActorSystem, rejected[0].Actor)

	assert.Equal(t, uint64(2), f.eng.CurrentRound().RoundID)
}

func TestForceAbortScenario(t *testing.T) {
	f := newFixture(t, testCatalog(t))

	f.clk.Set(t0.Add(2 * time.Second))
	_, err := f.eng.PlaceBet("alice", "mango", 100)
	require.NoError(t, err)
	_, err = f.eng.PlaceBet("bob", "cherry", 200)
	require.NoError(t, err)

	require.NoError(t, f.eng.ForceAbort(1, "admin-7"))

	sr, err := f.eng.SettledRound(1)
	require.NoError(t, err)
	assert.True(t, sr.Round.Aborted)
	require.Len(t, sr.Bets, 2)
	for _, b := range sr.Bets {
		assert.Equal(t, ledger.StatusRejected, b.Status)
		assert.Zero(t, b.Payout)
	}

	rejected := f.sink.ByAction(audit.BetRejected)
	require.Len(t, rejected, 2)
	assert.Equal(t, "admin-7", rejected[0].Actor)
	assert.Len(t, f.sink.ByAction(audit.RoundSettled), 1)

	// próxima rodada já aberta
	snap := f.eng.CurrentRound()
	assert.Equal(t, uint64(2), snap.RoundID)
	assert.True(t, snap.BetsOpen)
}

func TestForceAbortValidation(t *testing.T) {
	flaky := &flakyResolver{Resolver: testCatalog(t), failures: 100}
	f := newFixture(t, flaky)

	assert.ErrorIs(t, f.eng.ForceAbort(99, "admin"), ledger.ErrUnknownRound)

	// em RESOLVING o abort administrativo não vale
	f.clk.Set(t0.Add(31 * time.Second))
	f.eng.Tick(t0.Add(31 * time.Second))
	require.Equal(t, round.PhaseResolving, f.eng.CurrentRound().Phase)
	assert.ErrorIs(t, f.eng.ForceAbort(1, "admin"), ErrAbortNotAllowed)
}

func TestHistoryErrors(t *testing.T) {
	f := newFixture(t, testCatalog(t))

	_, err := f.eng.History(1)
	assert.ErrorIs(t, err, ErrRoundNotSettled)

	_, err = f.eng.History(99)
	assert.ErrorIs(t, err, ledger.ErrUnknownRound)
}

func TestEventsOrderedPerRound(t *testing.T) {
	clk := clock.NewManual(t0)
	sink := audit.NewMemorySink()
	eng := New(zap.NewNop(), clk, sink, testCatalog(t), Config{
		OpenDuration: 30 * time.Second,
		MinStake:     10,
		SeedFunc:     func(uint64) int64 { return 42 },
	})

	var mu sync.Mutex
	var got []events.RoundEvent
	eng.OnEvent(func(ev events.RoundEvent) {
		if ev.Type == events.TypeRoundTick {
			return
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	eng.Start()

	clk.Set(t0.Add(31 * time.Second))
	eng.Tick(t0.Add(31 * time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	assert.Equal(t, events.TypeRoundOpened, got[0].Type)
	assert.Equal(t, events.TypeRoundClosed, got[1].Type)
	assert.Equal(t, events.TypeRoundResolved, got[2].Type)
	assert.Equal(t, events.TypeRoundSettled, got[3].Type)
	assert.Equal(t, events.TypeRoundOpened, got[4].Type)

	for _, ev := range got[:4] {
		assert.Equal(t, uint64(1), ev.RoundID)
	}
	assert.Equal(t, uint64(2), got[4].RoundID)

	settled := got[3]
	assert.Equal(t, int64(42), settled.Seed)
	assert.NotEmpty(t, settled.WinningFruit)
}

// Submissões concorrentes disputando com o tick que fecha a rodada 1.
// Todas miram a rodada 1 por referência explícita: depois do tick a
// rodada 2 assume o ledger, então quem perde a corrida é rejeitado com
// ErrRoundClosed ou ErrUnknownRound, nunca admitido fora da rodada
// alvo. Toda aposta admitida aparece no conjunto liquidado e nenhuma
// entra depois do fechamento.
func TestConcurrentBetsAtClosingBoundary(t *testing.T) {
	f := newFixture(t, testCatalog(t))
	f.clk.Set(t0.Add(29 * time.Second))

	const n = 100
	var wg sync.WaitGroup
	results := make(chan error, n)
	ids := make(chan string, n)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			id, err := f.eng.PlaceBetOnRound(1, "p", "mango", 100)
			if err == nil {
				ids <- id
			}
			results <- err
		}()
	}

	close(start)
	closeAt := t0.Add(30 * time.Second)
	f.clk.Set(closeAt)
	f.eng.Tick(closeAt)
	wg.Wait()
	close(results)
	close(ids)

	bets, err := f.eng.History(1)
	require.NoError(t, err)
	settledIDs := make(map[string]struct{}, len(bets))
	for _, b := range bets {
		settledIDs[b.ID] = struct{}{}
		assert.Equal(t, ledger.StatusAdmitted, b.Status)
		assert.True(t, b.PlacedAt.Before(closeAt), "admitted bet placed before the close instant")
	}

	admitted := 0
	for id := range ids {
		admitted++
		_, ok := settledIDs[id]
		assert.True(t, ok, "admitted bet %s must be in the settled set", id)
	}
	assert.Equal(t, admitted, len(settledIDs), "no lost and no late admissions")

	for err := range results {
		if err != nil {
			rejected := errors.Is(err, ledger.ErrRoundClosed) || errors.Is(err, ledger.ErrUnknownRound)
			assert.True(t, rejected, "unexpected rejection: %v", err)
		}
	}

	// nada vazou pra rodada 2
	assert.Empty(t, f.eng.Bets(2))
}

func TestTickOpensFirstRoundLazily(t *testing.T) {
	clk := clock.NewManual(t0)
	eng := New(zap.NewNop(), clk, audit.NewMemorySink(), testCatalog(t), Config{})

	_, err := eng.PlaceBet("p", "mango", 10)
	assert.ErrorIs(t, err, ledger.ErrUnknownRound)

	eng.Tick(t0)
	snap := eng.CurrentRound()
	assert.Equal(t, uint64(1), snap.RoundID)
	assert.Equal(t, round.PhaseOpen, snap.Phase)
}
