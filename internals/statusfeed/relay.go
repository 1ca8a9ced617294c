package statusfeed

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/adityaadpandey/roomlink/internals/state"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ChannelPrefix = "roomlink:status:"

// RelayMessage wraps a status message with its origin.
type RelayMessage struct {
	InstanceID string  `json:"instance_id"`
	Message    Message `json:"message"`
}

// Relay mirrors connection state onto a Redis channel per room so dashboards
// outside this process can follow it. Publish only queues; Run does the I/O.
type Relay struct {
	redis      *redis.Client
	instanceID string
	queue      chan Message
	logger     *zap.Logger
}

func NewRelay(client *redis.Client, logger *zap.Logger) *Relay {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Relay{
		redis:      client,
		instanceID: instanceID,
		queue:      make(chan Message, 64),
		logger:     logger.With(zap.String("instance_id", instanceID)),
	}
}

func Channel(room string) string {
	return ChannelPrefix + room
}

// Publish queues s for room. It never blocks.
func (r *Relay) Publish(room string, s state.ConnectionState) {
	msg := Message{
		Type:      MessageTypeConnectionState,
		State:     s.String(),
		Room:      room,
		Timestamp: time.Now(),
	}
	select {
	case r.queue <- msg:
	default:
		r.logger.Warn("Status relay backlog full, dropping", zap.String("room", room))
	}
}

// Run drains the queue until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			r.send(ctx, msg)
		}
	}
}

func (r *Relay) send(ctx context.Context, msg Message) {
	if msg.Room == "" {
		return
	}
	data, err := json.Marshal(RelayMessage{InstanceID: r.instanceID, Message: msg})
	if err != nil {
		r.logger.Error("Failed to marshal status message", zap.Error(err))
		return
	}

	channel := Channel(msg.Room)
	if err := r.redis.Publish(ctx, channel, data).Err(); err != nil {
		r.logger.Error("Failed to publish status to Redis",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
