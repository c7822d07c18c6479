package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/audit-worker/archive"
	"github.com/radieske/fruit-roulette-poc/internal/shared/config"
	"github.com/radieske/fruit-roulette-poc/internal/shared/db"
	"github.com/radieske/fruit-roulette-poc/internal/shared/kafka"
	"github.com/radieske/fruit-roulette-poc/internal/shared/logger"
	"github.com/radieske/fruit-roulette-poc/internal/shared/metrics"
	"github.com/radieske/fruit-roulette-poc/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres: destino durável da trilha de auditoria
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	repo := archive.NewPostgres(pg)

	// Kafka consumer: eventos de rodada emitidos pelo game-service
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicRoundEvents, "audit-worker")
	defer reader.Close()

	var dlqWriter *kafka.Writer
	if cfg.TopicRoundEventsDLQ != "" {
		dlqWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEventsDLQ)
		defer dlqWriter.Close()
	}

	// Métricas Prometheus do arquivamento
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_events_consumed_total", Help: "eventos consumidos"})
	archived := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_rounds_archived_total", Help: "rodadas arquivadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, archived, errorsBy)

	// Servidor de métricas e healthcheck
	log.Info("metrics/health", zap.String("addr", ":"+cfg.MetricsPort))
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	log.Info("audit-worker started", zap.String("consume", cfg.TopicRoundEvents))

	// Loop principal: consome eventos, grava auditoria e arquiva settlements
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		consumed.Inc()

		var ev events.RoundEvent
		if jerr := json.Unmarshal(msg.Value, &ev); jerr != nil {
			log.Error("unmarshal round event", zap.Error(jerr))
			errorsBy.WithLabelValues("unmarshal").Inc()
			if dlqWriter != nil {
				_ = kafka.WriteJSON(ctx, dlqWriter, string(msg.Key), msg.Value)
			}
			continue
		}

		if err := repo.RecordEvent(ctx, &ev); err != nil {
			log.Error("audit insert", zap.Uint64("round_id", ev.RoundID), zap.Error(err))
			errorsBy.WithLabelValues("audit_insert").Inc()
			// Backoff simples para evitar flood em caso de erro
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if ev.Type == events.TypeRoundSettled {
			if err := repo.ArchiveSettled(ctx, &ev); err != nil {
				log.Error("archive settled", zap.Uint64("round_id", ev.RoundID), zap.Error(err))
				errorsBy.WithLabelValues("archive").Inc()
				continue
			}
			archived.Inc()
			log.Info("round archived",
				zap.Uint64("round_id", ev.RoundID),
				zap.String("winning_fruit", ev.WinningFruit),
				zap.Bool("aborted", ev.Aborted),
				zap.Int("bets", len(ev.Bets)),
			)
		}
	}
}
