package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore writes device selections to the stream hash and keeps a local
// copy so reads do not need a round trip.
type RedisStore struct {
	local  *sync.Map
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("Redis connection established",
		zap.String("addr", addr),
		zap.Int("db", db),
	)

	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		local:  &sync.Map{},
		redis:  client,
		logger: logger,
	}
}

// UpdateDevices writes the non-empty camera and microphone ids.
func (s *RedisStore) UpdateDevices(ctx context.Context, slug string, sel DeviceSelection) error {
	if slug == "" {
		return ErrInvalidSlug
	}

	fields := make([]interface{}, 0, 4)
	if sel.CameraID != "" {
		fields = append(fields, FieldCameraID, sel.CameraID)
	}
	if sel.MicID != "" {
		fields = append(fields, FieldMicID, sel.MicID)
	}
	if len(fields) == 0 {
		return nil
	}

	key := StreamKey(slug)
	if err := s.redis.HSet(ctx, key, fields...).Err(); err != nil {
		s.logger.Error("Failed to persist device selection",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	var cur DeviceSelection
	if val, ok := s.local.Load(slug); ok {
		cur = val.(DeviceSelection)
	}
	s.local.Store(slug, merge(cur, sel))
	return nil
}

// Devices returns the selection from the local cache, falling back to Redis.
func (s *RedisStore) Devices(ctx context.Context, slug string) (DeviceSelection, error) {
	if slug == "" {
		return DeviceSelection{}, ErrInvalidSlug
	}
	if val, ok := s.local.Load(slug); ok {
		return val.(DeviceSelection), nil
	}

	fields, err := s.redis.HGetAll(ctx, StreamKey(slug)).Result()
	if err != nil {
		return DeviceSelection{}, err
	}

	sel := DeviceSelection{
		CameraID: fields[FieldCameraID],
		MicID:    fields[FieldMicID],
	}
	if len(fields) > 0 {
		s.local.Store(slug, sel)
	}
	return sel, nil
}

// Client exposes the connection for other Redis users such as the status relay.
func (s *RedisStore) Client() *redis.Client {
	return s.redis
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
