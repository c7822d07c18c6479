package topics

const (
	// Eventos do ciclo de vida das rodadas
	RoundEvents = "round_events"

	// DLQ
	RoundEventsDLQ = "round_events_dlq"
)
