package websocket

import (
	"encoding/json"
	"testing"
)

func newTestClient() *Client {
	return &Client{send: make(chan []byte, 4)}
}

func TestBroadcastReachesAllClientsOfUser(t *testing.T) {
	hub := NewHub()
	first := newTestClient()
	second := newTestClient()
	other := newTestClient()
	hub.Register("u1", first)
	hub.Register("u1", second)
	hub.Register("u2", other)

	hub.BroadcastBalance("u1", BalanceUpdate{UserID: "u1", Balance: "42"})

	for _, client := range []*Client{first, second} {
		select {
		case raw := <-client.send:
			var msg struct {
				Type    string        `json:"type"`
				Payload BalanceUpdate `json:"payload"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type != "balance" || msg.Payload.Balance != "42" {
				t.Fatalf("unexpected message %+v", msg)
			}
		default:
			t.Fatal("client did not receive the broadcast")
		}
	}
	select {
	case <-other.send:
		t.Fatal("broadcast leaked to another user")
	default:
	}
}

func TestBroadcastDropsWhenClientBufferFull(t *testing.T) {
	hub := NewHub()
	client := &Client{send: make(chan []byte, 1)}
	hub.Register("u1", client)

	hub.BroadcastDeal("u1", DealEvent{Ticket: "D-1", Status: "PAID"})
	// the buffer is full now; this must not block
	hub.BroadcastDeal("u1", DealEvent{Ticket: "D-1", Status: "COMPLETED"})

	raw := <-client.send
	var msg struct {
		Type    string    `json:"type"`
		Payload DealEvent `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Payload.Status != "PAID" {
		t.Fatalf("kept message = %+v, want the first one", msg.Payload)
	}
	select {
	case <-client.send:
		t.Fatal("second message should have been dropped")
	default:
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	client := newTestClient()
	hub.Register("u1", client)
	hub.Unregister("u1", client)

	hub.BroadcastBalance("u1", BalanceUpdate{UserID: "u1", Balance: "1"})

	select {
	case <-client.send:
		t.Fatal("unregistered client still received a message")
	default:
	}
}
