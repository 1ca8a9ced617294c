package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRelaySend(t *testing.T) {
	t.Setenv("INSTANCE_ID", "edge-1")
	db, mock := redismock.NewClientMock()
	r := NewRelay(db, zaptest.NewLogger(t))

	msg := Message{
		Type:      MessageTypeConnectionState,
		State:     "active",
		Room:      "lobby",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(RelayMessage{InstanceID: "edge-1", Message: msg})
	require.NoError(t, err)

	mock.ExpectPublish("roomlink:status:lobby", data).SetVal(1)
	r.send(context.Background(), msg)

	mock.ExpectPublish("roomlink:status:lobby", data).SetErr(errors.New("connection reset"))
	r.send(context.Background(), msg)

	r.send(context.Background(), Message{Type: MessageTypeConnectionState, State: "idle"})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelayPublishNeverBlocks(t *testing.T) {
	db, _ := redismock.NewClientMock()
	r := NewRelay(db, zaptest.NewLogger(t))

	for i := 0; i < cap(r.queue)+10; i++ {
		r.Publish("lobby", state.Connecting)
	}
	assert.Len(t, r.queue, cap(r.queue))
}
