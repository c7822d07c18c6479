package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action identifica a operação registrada na trilha de auditoria.
type Action string

const (
	RoundOpened   Action = "ROUND_OPENED"
	RoundClosed   Action = "ROUND_CLOSED"
	BetAdmitted   Action = "BET_ADMITTED"
	BetRejected   Action = "BET_REJECTED"
	RoundResolved Action = "ROUND_RESOLVED"
	RoundSettled  Action = "ROUND_SETTLED"
)

// ActorSystem é o ator usado em transições disparadas pelo próprio engine.
const ActorSystem = "system"

// Entry é um registro imutável de auditoria. Append-only; retenção é
// responsabilidade do sink.
type Entry struct {
	Ts      time.Time      `json:"ts"`
	Actor   string         `json:"actor"`
	Action  Action         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

// Sink recebe cada entrada produzida pelas operações do engine.
type Sink interface {
	Record(Entry)
}

// MemorySink guarda as entradas em memória, em ordem de chegada.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Entries retorna uma cópia do log acumulado.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction filtra as entradas acumuladas por ação.
func (s *MemorySink) ByAction(a Action) []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

// ZapSink espelha cada entrada no logger estruturado.
type ZapSink struct{ Log *zap.Logger }

func NewZapSink(log *zap.Logger) *ZapSink { return &ZapSink{Log: log} }

func (s *ZapSink) Record(e Entry) {
	s.Log.Info("audit",
		zap.String("action", string(e.Action)),
		zap.String("actor", e.Actor),
		zap.Time("ts", e.Ts),
		zap.Any("details", e.Details),
	)
}

type multiSink []Sink

func (m multiSink) Record(e Entry) {
	for _, s := range m {
		s.Record(e)
	}
}

// Multi encadeia vários sinks num só.
func Multi(sinks ...Sink) Sink { return multiSink(sinks) }
