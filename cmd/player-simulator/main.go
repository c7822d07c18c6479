package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/shared/config"
	"github.com/radieske/fruit-roulette-poc/internal/shared/logger"
	"github.com/radieske/fruit-roulette-poc/internal/shared/metrics"
)

// Catálogo e fichas do jogo original, usados pra gerar apostas plausíveis
var (
	fruits = []string{"cherry", "banana", "grape", "melon", "orange", "apple", "lemon", "strawberry"}
	chips  = []int64{10, 100, 1000, 5000, 50000}

	betsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_bets_sent_total",
		Help: "Apostas enviadas pelo simulador",
	})
	betsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_bets_failed_total",
		Help: "Apostas recusadas por status HTTP",
	}, []string{"status"})
)

type roundResp struct {
	RoundID  uint64 `json:"round_id"`
	Phase    string `json:"phase"`
	BetsOpen bool   `json:"bets_open"`
}

type betReq struct {
	RoundID       uint64 `json:"round_id"`
	ParticipantID string `json:"participant_id"`
	Fruit         string `json:"fruit"`
	Stake         int64  `json:"stake"`
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prometheus.MustRegister(betsSent, betsFailed)
	log.Info("metrics/health", zap.String("addr", ":"+cfg.MetricsPort))
	metrics.StartMetricsServer(cfg.MetricsPort, func(context.Context) error { return nil })

	log.Info("player-simulator started", zap.String("target", cfg.GameServiceURL))

	client := &http.Client{Timeout: 3 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(750 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := fetchRound(ctx, client, cfg.GameServiceURL)
			if err != nil {
				log.Warn("fetch round", zap.Error(err))
				continue
			}
			if !cur.BetsOpen {
				continue
			}
			// alguns jogadores por tick
			for i := 0; i < 1+rng.Intn(3); i++ {
				placeOne(ctx, log, client, cfg.GameServiceURL, rng, cur.RoundID)
			}
		}
	}
}

func fetchRound(ctx context.Context, client *http.Client, base string) (*roundResp, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/round", nil)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out roundResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func placeOne(ctx context.Context, log *zap.Logger, client *http.Client, base string, rng *rand.Rand, roundID uint64) {
	payload := betReq{
		RoundID:       roundID,
		ParticipantID: fmt.Sprintf("sim-player-%02d", 1+rng.Intn(20)),
		Fruit:         fruits[rng.Intn(len(fruits))],
		Stake:         chips[rng.Intn(len(chips))],
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/bets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("place bet", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		betsFailed.WithLabelValues(resp.Status).Inc()
		return
	}
	betsSent.Inc()
}
