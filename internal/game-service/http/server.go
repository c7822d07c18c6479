package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/engine"
	"github.com/radieske/fruit-roulette-poc/internal/engine/ledger"
	"github.com/radieske/fruit-roulette-poc/internal/engine/resolver"
	"github.com/radieske/fruit-roulette-poc/internal/game-service/dto"
)

// Métricas de admissão; registradas pelo main do serviço
var (
	BetsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_bets_admitted_total",
		Help: "Apostas admitidas",
	})
	BetsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "game_bets_rejected_total",
		Help: "Apostas rejeitadas por motivo",
	}, []string{"reason"})
)

// Server expõe a API pública do engine de rodadas
type Server struct {
	log *zap.Logger
	eng *engine.Engine
	res *resolver.Resolver
	ws  http.HandlerFunc // handler do hub WebSocket, montado em /ws
}

func NewServer(log *zap.Logger, eng *engine.Engine, res *resolver.Resolver, ws http.HandlerFunc) *Server {
	return &Server{log: log, eng: eng, res: res, ws: ws}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/round", s.getCurrentRound)
	r.Get("/v1/fruits", s.listFruits)
	r.Post("/v1/bets", s.placeBet)
	r.Get("/v1/bets", s.listMyBets)
	r.Get("/v1/rounds/{id}/bets", s.getRoundHistory)
	r.Post("/v1/admin/rounds/{id}/abort", s.abortRound)
	if s.ws != nil {
		r.Get("/ws", s.ws)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func (s *Server) getCurrentRound(w http.ResponseWriter, r *http.Request) {
	snap := s.eng.CurrentRound()
	writeJSON(w, http.StatusOK, dto.CurrentRoundResponse{
		RoundID:     snap.RoundID,
		Phase:       string(snap.Phase),
		OpenedAt:    snap.OpenedAt,
		ClosesAt:    snap.ClosesAt,
		RemainingMs: snap.Remaining.Milliseconds(),
		BetsOpen:    snap.BetsOpen,
	})
}

func (s *Server) listFruits(w http.ResponseWriter, r *http.Request) {
	fruits := s.res.Fruits()
	out := make([]dto.FruitView, 0, len(fruits))
	for _, f := range fruits {
		out = append(out, dto.FruitView{Name: f.Name, Multiplier: f.Multiplier, Weight: f.Weight})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad json"))
		return
	}
	if req.ParticipantID == "" || req.Fruit == "" {
		writeError(w, http.StatusBadRequest, errors.New("participant_id and fruit are required"))
		return
	}

	var (
		betID string
		err   error
	)
	if req.RoundID != 0 {
		betID, err = s.eng.PlaceBetOnRound(req.RoundID, req.ParticipantID, req.Fruit, req.Stake)
	} else {
		betID, err = s.eng.PlaceBet(req.ParticipantID, req.Fruit, req.Stake)
	}
	if err != nil {
		s.log.Debug("bet rejected",
			zap.String("participant_id", req.ParticipantID),
			zap.String("fruit", req.Fruit),
			zap.Int64("stake", req.Stake),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, ledger.ErrInvalidStake):
			BetsRejected.WithLabelValues("invalid_stake").Inc()
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, ledger.ErrRoundClosed):
			BetsRejected.WithLabelValues("round_closed").Inc()
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, ledger.ErrUnknownRound):
			BetsRejected.WithLabelValues("unknown_round").Inc()
			writeError(w, http.StatusNotFound, err)
		default:
			BetsRejected.WithLabelValues("internal").Inc()
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	BetsAdmitted.Inc()
	writeJSON(w, http.StatusOK, dto.PlaceBetResponse{
		BetID:   betID,
		RoundID: s.eng.CurrentRound().RoundID,
		Status:  ledger.StatusAdmitted,
	})
}

func (s *Server) listMyBets(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("participant_id")
	if pid == "" {
		writeError(w, http.StatusBadRequest, errors.New("participant_id required"))
		return
	}
	writeJSON(w, http.StatusOK, toBetViews(s.eng.BetsByParticipant(pid)))
}

func (s *Server) getRoundHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}

	sr, err := s.eng.SettledRound(id)
	if err != nil {
		if errors.Is(err, engine.ErrRoundNotSettled) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RoundHistoryResponse{
		RoundID:      sr.Round.ID,
		WinningFruit: sr.Round.WinningFruit,
		Aborted:      sr.Round.Aborted,
		TotalStaked:  sr.TotalStaked,
		TotalPaid:    sr.TotalPaid,
		Bets:         toBetViews(sr.Bets),
	})
}

func (s *Server) abortRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}
	var req dto.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		writeError(w, http.StatusBadRequest, errors.New("actor required"))
		return
	}

	if err := s.eng.ForceAbort(id, req.Actor); err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnknownRound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, engine.ErrAbortNotAllowed):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.log.Warn("round aborted via admin API",
		zap.Uint64("round_id", id),
		zap.String("actor", req.Actor),
	)
	writeJSON(w, http.StatusOK, map[string]any{"round_id": id, "status": "SETTLED"})
}

func toBetViews(bets []ledger.Bet) []dto.BetView {
	out := make([]dto.BetView, 0, len(bets))
	for _, b := range bets {
		out = append(out, dto.BetView{
			BetID:         b.ID,
			RoundID:       b.RoundID,
			ParticipantID: b.ParticipantID,
			Fruit:         b.Fruit,
			Stake:         b.Stake,
			PlacedAt:      b.PlacedAt,
			Status:        b.Status,
			Payout:        b.Payout,
		})
	}
	return out
}
