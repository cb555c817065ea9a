package websocket

import (
	"encoding/json"
	"sync"
)

// BalanceUpdate is pushed after any mutation that changed a user's balance.
type BalanceUpdate struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// DealEvent announces a deal transition to its parties. Delivery is
// best-effort: a slow client drops messages rather than blocking the engine.
type DealEvent struct {
	Ticket  string `json:"ticket"`
	Status  string `json:"status"`
	QRStage string `json:"qr_stage,omitempty"`
	Note    string `json:"note,omitempty"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	h.send(userID, envelope{Type: "balance", Payload: update})
}

func (h *Hub) BroadcastDeal(userID string, event DealEvent) {
	h.send(userID, envelope{Type: "deal", Payload: event})
}

func (h *Hub) send(userID string, message envelope) {
	payload, _ := json.Marshal(message)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
