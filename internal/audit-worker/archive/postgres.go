package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/radieske/fruit-roulette-poc/pkg/contracts/events"
)

// Postgres arquiva eventos de rodada: trilha de auditoria durável mais
// o snapshot final de rodadas e apostas liquidadas. O core nunca lê
// daqui; retenção e consulta são problema de quem opera o banco.
type Postgres struct{ db *sql.DB }

// NewPostgres retorna o repositório de arquivamento
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// RecordEvent insere o evento bruto na audit_log
func (p *Postgres) RecordEvent(ctx context.Context, ev *events.RoundEvent) error {
	details, _ := json.Marshal(ev)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_log (round_id, action, details, ts)
		VALUES ($1,$2,$3,$4)`,
		ev.RoundID, ev.Type, details, ev.Ts,
	)
	return err
}

// ArchiveSettled grava a rodada liquidada e suas apostas numa transação.
// Idempotente por round_id: reprocessar o mesmo evento (entrega
// at-least-once do Kafka) não duplica linhas.
func (p *Postgres) ArchiveSettled(ctx context.Context, ev *events.RoundEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (id, winning_fruit, aborted, seed, total_staked, total_paid, opened_at, closes_at, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		ev.RoundID, ev.WinningFruit, ev.Aborted, ev.Seed, ev.TotalStaked, ev.TotalPaid,
		ev.OpenedAt, ev.ClosesAt, ev.Ts,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit() // já arquivada
	}

	for _, b := range ev.Bets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bets (id, round_id, participant_id, fruit, stake, status, payout, placed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING`,
			b.BetID, ev.RoundID, b.ParticipantID, b.Fruit, b.Stake, b.Status, b.Payout,
			time.UnixMilli(b.PlacedAtMs),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
