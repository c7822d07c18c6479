package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub gerencia conexões WebSocket do jogo. Todos os clientes recebem o
// mesmo fluxo de eventos da rodada corrente; não há assinatura por
// tópico como no caso de odds por partida.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	conns    map[*websocket.Conn]*sync.Mutex
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket.
// O cliente entra direto no broadcast; só respondemos a pings.
// O gorilla/websocket não admite escritores concorrentes, então cada
// conexão carrega um mutex de escrita compartilhado com o Broadcast.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wmu := &sync.Mutex{}
	h.mu.Lock()
	h.conns[conn] = wmu
	h.mu.Unlock()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == "ping" {
			wmu.Lock()
			_ = conn.WriteJSON(map[string]string{"type": "pong"})
			wmu.Unlock()
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Broadcast envia uma atualização do jogo para todos os clientes conectados
func (h *Hub) Broadcast(update GameUpdate) {
	type target struct {
		conn *websocket.Conn
		wmu  *sync.Mutex
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for c, wmu := range h.conns {
		targets = append(targets, target{conn: c, wmu: wmu})
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, _ := json.Marshal(update)
	for _, tg := range targets {
		tg.wmu.Lock()
		_ = tg.conn.WriteMessage(websocket.TextMessage, b)
		tg.wmu.Unlock()
	}
}
