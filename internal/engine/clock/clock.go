package clock

import (
	"sync"
	"time"
)

// Clock abstrai a fonte de tempo do engine para permitir testes determinísticos.
type Clock interface {
	Now() time.Time
}

// System usa o relógio real do processo.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual é um relógio controlado manualmente (só para testes).
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(start time.Time) *Manual { return &Manual{t: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance avança o relógio em d e retorna o novo instante.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}
