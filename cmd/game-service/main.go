package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/fruit-roulette-poc/internal/engine"
	"github.com/radieske/fruit-roulette-poc/internal/engine/audit"
	"github.com/radieske/fruit-roulette-poc/internal/engine/clock"
	"github.com/radieske/fruit-roulette-poc/internal/engine/resolver"
	ghttp "github.com/radieske/fruit-roulette-poc/internal/game-service/http"
	"github.com/radieske/fruit-roulette-poc/internal/game-service/producer"
	"github.com/radieske/fruit-roulette-poc/internal/game-service/pubsub"
	"github.com/radieske/fruit-roulette-poc/internal/game-service/ws"
	"github.com/radieske/fruit-roulette-poc/internal/shared/cache"
	"github.com/radieske/fruit-roulette-poc/internal/shared/config"
	"github.com/radieske/fruit-roulette-poc/internal/shared/kafka"
	"github.com/radieske/fruit-roulette-poc/internal/shared/logger"
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

	// Redis: ponte de broadcast para o hub WS
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka writer (topic round_events)
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	defer writer.Close()
	publ := producer.NewKafkaPublisher(writer, cfg.TopicRoundEvents)
	broadcaster := pubsub.NewRedisBroadcaster(rdb)

	// Resolvedor com o catálogo clássico; falha de configuração é fatal aqui
	res := resolver.Default()

	// Trilha de auditoria: memória (consultável) + espelho no logger.
	// O arquivamento durável fica com o audit-worker via Kafka.
	sink := audit.Multi(audit.NewMemorySink(), audit.NewZapSink(log.Named("audit")))

	eng := engine.New(log, clock.System{}, sink, res, engine.Config{
		OpenDuration:      cfg.RoundOpenDuration,
		TickInterval:      cfg.TickInterval,
		MaxResolveRetries: cfg.MaxResolveRetries,
		MinStake:          cfg.MinStake,
		MaxStake:          cfg.MaxStake,
		AuditRejected:     cfg.AuditRejectedBets,
	})

	// Métricas do ciclo de vida
	roundsSettled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_rounds_settled_total", Help: "Rodadas liquidadas",
	})
	roundsAborted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_rounds_aborted_total", Help: "Rodadas abortadas",
	})
	payoutTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_payout_total", Help: "Total pago em payouts",
	})
	prometheus.MustRegister(roundsSettled, roundsAborted, payoutTotal,
		ghttp.BetsAdmitted, ghttp.BetsRejected)

	// Ponte de eventos: o handler do engine não pode bloquear, então só
	// enfileira; a goroutine abaixo publica no Kafka e no Redis em ordem.
	evCh := make(chan events.RoundEvent, 1024)
	eng.OnEvent(func(ev events.RoundEvent) {
		enqueueEvent(log, evCh, ev)
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-evCh:
				b, _ := json.Marshal(ev)
				if err := broadcaster.Publish(ctx, cfg.RedisPubSubChannel, b); err != nil {
					log.Warn("redis publish", zap.Error(err))
				}
				if ev.Type == events.TypeRoundTick {
					continue // countdown é só para o WS, não polui o tópico
				}
				if err := publ.PublishRoundEvent(ctx, ev); err != nil {
					log.Warn("kafka publish", zap.String("type", ev.Type), zap.Error(err))
				}
				switch ev.Type {
				case events.TypeRoundSettled:
					if ev.Aborted {
						roundsAborted.Inc()
					} else {
						roundsSettled.Inc()
					}
					payoutTotal.Add(float64(ev.TotalPaid))
				}
			}
		}
	}()

	// Hub WebSocket alimentado pelo canal Redis
	hub := ws.NewHub(func(r *http.Request) bool { return true })
	ws.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)

	// HTTP público
	api := ghttp.NewServer(log, eng, res, hub.HandleWS)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, metricsMux)
	}()

	// Engine: ticker dirige as transições de fase
	go eng.Run(ctx)

	go func() {
		<-ctx.Done()
		_ = apiSrv.Shutdown(context.Background())
	}()

	log.Info("game-service listening",
		zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)),
		zap.Duration("round_open", cfg.RoundOpenDuration),
		zap.Duration("tick", cfg.TickInterval),
	)
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}

// enqueueEvent repassa o evento pra ponte sem travar o engine, que
// chama o hook segurando o lock de escrita. Com o buffer cheio (broker
// indisponível), round_tick é descartado; eventos de ciclo de vida
// esperam vaga porque o audit-worker depende deles.
func enqueueEvent(log *zap.Logger, ch chan events.RoundEvent, ev events.RoundEvent) {
	if ev.Type != events.TypeRoundTick {
		ch <- ev
		return
	}
	select {
	case ch <- ev:
	default:
		log.Warn("event buffer full, dropping tick", zap.Uint64("round_id", ev.RoundID))
	}
}
