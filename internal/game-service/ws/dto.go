package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: ping (o push de rodada não exige assinatura por tópico)
type ClientMsg struct {
	Type string `json:"type"` // ping
}

// GameUpdate é o push enviado aos clientes conectados: countdown,
// mudanças de fase e settlement da rodada corrente.
type GameUpdate struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
