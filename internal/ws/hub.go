package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// Hub управляет всеми WebSocket клиентами.
type Hub struct {
	mu        sync.RWMutex
	clients   map[uuid.UUID]map[*Client]struct{}
	broadcast chan message
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

// Envelope — сообщение клиенту: поле "type" содержит имя события, "data" — полезную нагрузку.
// По "id" клиент отбрасывает повторно доставленные события.
type Envelope struct {
	ID   uuid.UUID       `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[uuid.UUID]map[*Client]struct{}),
		broadcast: make(chan message, 32),
	}
}

// Run запускает главный цикл хаба до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.addClient(client)
}

// Unregister удаляет клиента. Не блокируется, даже если цикл хаба уже остановлен.
func (h *Hub) Unregister(client *Client) {
	h.removeClient(client)
}

// Deliver рассылает доменное событие всем получателям, подключённым к этому экземпляру.
func (h *Hub) Deliver(ctx context.Context, event *entity.DomainEvent) error {
	raw, err := json.Marshal(Envelope{ID: event.ID, Type: event.Type, Data: event.Payload})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}
	for _, userID := range event.Recipients {
		select {
		case h.broadcast <- message{userID: userID, payload: raw}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Online сообщает, подключён ли пользователь к этому экземпляру.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			logger.Log.WithField("user_id", userID).Warn("ws: буфер клиента переполнен, соединение закрывается")
			c := client
			goroutine.SafeGo(c.Close)
		}
	}
}
