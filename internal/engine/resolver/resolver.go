package resolver

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/radieske/fruit-roulette-poc/internal/engine/ledger"
)

// ErrEmptyFruitSet: resolvedor construído sem nenhuma fruta. Erro de
// configuração, fatal na subida do serviço.
var ErrEmptyFruitSet = errors.New("empty fruit set")

// Fruit é uma categoria apostável com multiplicador fixo e peso
// relativo no sorteio.
type Fruit struct {
	Name       string  `json:"name"`
	Multiplier int64   `json:"multiplier"`
	Weight     float64 `json:"weight"`
}

// DefaultFruits é o catálogo clássico do jogo, com os multiplicadores
// originais e sorteio uniforme.
func DefaultFruits() []Fruit {
	return []Fruit{
		{Name: "cherry", Multiplier: 5, Weight: 1},
		{Name: "banana", Multiplier: 3, Weight: 1},
		{Name: "grape", Multiplier: 8, Weight: 1},
		{Name: "melon", Multiplier: 12, Weight: 1},
		{Name: "orange", Multiplier: 6, Weight: 1},
		{Name: "apple", Multiplier: 4, Weight: 1},
		{Name: "lemon", Multiplier: 10, Weight: 1},
		{Name: "strawberry", Multiplier: 15, Weight: 1},
	}
}

// Resolver sorteia a fruta vencedora e calcula os payouts de uma rodada
// fechada. Determinístico dada a seed; nunca muta o ledger.
type Resolver struct {
	fruits []Fruit
	index  map[string]int
	total  float64
}

// New valida o catálogo e constrói o resolvedor.
func New(fruits []Fruit) (*Resolver, error) {
	if len(fruits) == 0 {
		return nil, ErrEmptyFruitSet
	}
	r := &Resolver{
		fruits: fruits,
		index:  make(map[string]int, len(fruits)),
	}
	for i, f := range fruits {
		if f.Weight <= 0 {
			return nil, fmt.Errorf("fruit %q: weight must be positive", f.Name)
		}
		if f.Multiplier <= 0 {
			return nil, fmt.Errorf("fruit %q: multiplier must be positive", f.Name)
		}
		if _, dup := r.index[f.Name]; dup {
			return nil, fmt.Errorf("fruit %q: duplicated in catalog", f.Name)
		}
		r.index[f.Name] = i
		r.total += f.Weight
	}
	return r, nil
}

// Default constrói o resolvedor com o catálogo clássico.
func Default() *Resolver {
	r, err := New(DefaultFruits())
	if err != nil {
		panic(err) // catálogo fixo, não falha
	}
	return r
}

// Fruits devolve uma cópia do catálogo configurado.
func (r *Resolver) Fruits() []Fruit {
	out := make([]Fruit, len(r.fruits))
	copy(out, r.fruits)
	return out
}

// Recognizes informa se a fruta faz parte do catálogo.
func (r *Resolver) Recognizes(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Multiplier devolve o multiplicador da fruta (0 se desconhecida).
func (r *Resolver) Multiplier(name string) int64 {
	i, ok := r.index[name]
	if !ok {
		return 0
	}
	return r.fruits[i].Multiplier
}

// Resolve sorteia a vencedora com a seed dada e calcula o payout de
// cada aposta admitida: stake * multiplier pra quem acertou, zero pro
// resto. Mesma seed + mesmo conjunto de apostas => mesmo resultado.
func (r *Resolver) Resolve(roundID uint64, seed int64, bets []*ledger.Bet) (string, map[string]int64, error) {
	winner := r.pick(seed)
	payouts := make(map[string]int64, len(bets))
	mult := r.Multiplier(winner)
	for _, b := range bets {
		if b.Status != ledger.StatusAdmitted {
			continue
		}
		if b.Fruit == winner {
			payouts[b.ID] = b.Stake * mult
		} else {
			payouts[b.ID] = 0
		}
	}
	return winner, payouts, nil
}

// pick faz o sorteio ponderado com um gerador local, nunca o ambiente.
func (r *Resolver) pick(seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	x := rng.Float64() * r.total
	for _, f := range r.fruits {
		x -= f.Weight
		if x < 0 {
			return f.Name
		}
	}
	return r.fruits[len(r.fruits)-1].Name
}
