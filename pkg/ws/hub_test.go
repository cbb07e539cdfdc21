package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case payload := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return &msg
	case <-time.After(time.Second):
		t.Fatal("no message queued for client")
		return nil
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	a := NewClient(hub, nil)
	b := NewClient(hub, nil)

	hub.Broadcast(TypeVehicleUpdate, map[string]string{"vin": "VIN1"})

	assert.Equal(t, TypeVehicleUpdate, receive(t, a).Type)
	assert.Equal(t, TypeVehicleUpdate, receive(t, b).Type)
}

func TestSendTargetsOneClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	existing := NewClient(hub, nil)
	joined := NewClient(hub, nil)

	joined.Send(TypeInit, map[string]any{"sessions": []string{}})

	msg := receive(t, joined)
	assert.Equal(t, TypeInit, msg.Type)

	select {
	case payload := <-existing.send:
		t.Fatalf("existing client received %s", payload)
	default:
	}
}
