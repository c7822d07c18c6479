package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/engine"
	"github.com/radieske/fruit-roulette-poc/internal/engine/audit"
	"github.com/radieske/fruit-roulette-poc/internal/engine/clock"
	"github.com/radieske/fruit-roulette-poc/internal/engine/resolver"
	"github.com/radieske/fruit-roulette-poc/internal/game-service/dto"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	srv *httptest.Server
	eng *engine.Engine
	clk *clock.Manual
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := clock.NewManual(t0)
	res := resolver.Default()
	eng := engine.New(zap.NewNop(), clk, audit.NewMemorySink(), res, engine.Config{
		OpenDuration: 30 * time.Second,
		MinStake:     10,
		MaxStake:     500000,
		SeedFunc:     func(uint64) int64 { return 42 },
	})
	eng.Start()

	api := NewServer(zap.NewNop(), eng, res, nil)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, eng: eng, clk: clk}
}

func (a *testAPI) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(a.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGetCurrentRound(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.srv.URL + "/v1/round")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[dto.CurrentRoundResponse](t, resp)
	assert.Equal(t, uint64(1), out.RoundID)
	assert.Equal(t, "OPEN", out.Phase)
	assert.True(t, out.BetsOpen)
	assert.Equal(t, int64(30000), out.RemainingMs)
}

func TestListFruits(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.srv.URL + "/v1/fruits")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[[]dto.FruitView](t, resp)
	require.Len(t, out, 8)
	assert.Equal(t, "cherry", out[0].Name)
	assert.Equal(t, int64(5), out[0].Multiplier)
}

func TestPlaceBet(t *testing.T) {
	a := newTestAPI(t)

	resp := a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{
		ParticipantID: "alice", Fruit: "cherry", Stake: 100,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[dto.PlaceBetResponse](t, resp)
	assert.NotEmpty(t, out.BetID)
	assert.Equal(t, uint64(1), out.RoundID)
	assert.Equal(t, "ADMITTED", out.Status)
}

func TestPlaceBetErrors(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name string
		req  dto.PlaceBetRequest
		want int
	}{
		{"missing fields", dto.PlaceBetRequest{ParticipantID: "alice"}, http.StatusBadRequest},
		{"zero stake", dto.PlaceBetRequest{ParticipantID: "alice", Fruit: "cherry"}, http.StatusBadRequest},
		{"below minimum", dto.PlaceBetRequest{ParticipantID: "alice", Fruit: "cherry", Stake: 5}, http.StatusBadRequest},
		{"unknown fruit", dto.PlaceBetRequest{ParticipantID: "alice", Fruit: "durian", Stake: 100}, http.StatusBadRequest},
		{"stale round", dto.PlaceBetRequest{RoundID: 42, ParticipantID: "alice", Fruit: "cherry", Stake: 100}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := a.postJSON(t, "/v1/bets", tc.req)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestPlaceBetAfterClose(t *testing.T) {
	a := newTestAPI(t)
	a.clk.Set(t0.Add(31 * time.Second))

	resp := a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{
		ParticipantID: "alice", Fruit: "cherry", Stake: 100,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRoundHistoryFlow(t *testing.T) {
	a := newTestAPI(t)

	// rodada corrente ainda não liquidada
	resp, err := http.Get(a.srv.URL + "/v1/rounds/1/bets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// rodada desconhecida
	resp, err = http.Get(a.srv.URL + "/v1/rounds/99/bets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bet := a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{
		ParticipantID: "alice", Fruit: "melon", Stake: 100,
	})
	placed := decode[dto.PlaceBetResponse](t, bet)

	a.clk.Set(t0.Add(31 * time.Second))
	a.eng.Tick(t0.Add(31 * time.Second))

	resp, err = http.Get(a.srv.URL + "/v1/rounds/1/bets")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[dto.RoundHistoryResponse](t, resp)
	assert.Equal(t, uint64(1), out.RoundID)
	assert.NotEmpty(t, out.WinningFruit)
	require.Len(t, out.Bets, 1)
	assert.Equal(t, placed.BetID, out.Bets[0].BetID)
	assert.Equal(t, int64(100), out.TotalStaked)
}

func TestListMyBets(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.srv.URL + "/v1/bets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{ParticipantID: "alice", Fruit: "cherry", Stake: 50}).Body.Close()
	a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{ParticipantID: "bob", Fruit: "melon", Stake: 80}).Body.Close()

	resp, err = http.Get(a.srv.URL + "/v1/bets?participant_id=alice")
	require.NoError(t, err)
	out := decode[[]dto.BetView](t, resp)
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].ParticipantID)
}

func TestAbortRound(t *testing.T) {
	a := newTestAPI(t)

	a.postJSON(t, "/v1/bets", dto.PlaceBetRequest{ParticipantID: "alice", Fruit: "cherry", Stake: 50}).Body.Close()

	resp := a.postJSON(t, "/v1/admin/rounds/1/abort", dto.AbortRequest{Actor: "admin-7"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	hist, err := http.Get(a.srv.URL + "/v1/rounds/1/bets")
	require.NoError(t, err)
	out := decode[dto.RoundHistoryResponse](t, hist)
	assert.True(t, out.Aborted)
	require.Len(t, out.Bets, 1)
	assert.Equal(t, "REJECTED", out.Bets[0].Status)

	// abort de rodada já liquidada
	resp = a.postJSON(t, "/v1/admin/rounds/1/abort", dto.AbortRequest{Actor: "admin-7"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// sem actor
	resp = a.postJSON(t, fmt.Sprintf("/v1/admin/rounds/%d/abort", a.eng.CurrentRound().RoundID), dto.AbortRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
