package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
)

func TestHub_DeliverToRecipientsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	client := uuid.New()
	stranger := uuid.New()
	c1 := &Client{hub: hub, userID: client, send: make(chan []byte, 1)}
	c2 := &Client{hub: hub, userID: stranger, send: make(chan []byte, 1)}
	hub.Register(c1)
	hub.Register(c2)
	assert.True(t, hub.Online(client))

	event := &entity.DomainEvent{
		ID:         uuid.New(),
		Type:       "order.status_changed",
		Payload:    json.RawMessage(`{"from":"pending","to":"accepted"}`),
		Recipients: entity.Recipients{client},
	}
	require.NoError(t, hub.Deliver(ctx, event))

	select {
	case raw := <-c1.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, event.ID, env.ID)
		assert.Equal(t, "order.status_changed", env.Type)
		assert.JSONEq(t, `{"from":"pending","to":"accepted"}`, string(env.Data))
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}

	select {
	case <-c2.send:
		t.Fatal("event delivered to non-recipient")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(c1)
	assert.False(t, hub.Online(client))
}
