package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/aegis/internal/types"
)

const channelPrefix = "relay:room:"

// bridgeMessage is what travels on the Redis channel. Origin lets an
// instance skip its own echo.
type bridgeMessage struct {
	Origin string `json:"origin"`
	Frame  Frame  `json:"frame"`
}

// RedisBridge fans data frames out across relay instances over Redis
// pub/sub, one channel per room. Rosters stay local to each instance.
type RedisBridge struct {
	rdb      *redis.Client
	server   *Server
	instance string
	logger   *slog.Logger
}

// NewRedisBridge connects to the Redis server at url
// (redis://host:port/db) and attaches itself to server.
func NewRedisBridge(url string, server *Server, logger *slog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &RedisBridge{
		rdb:      redis.NewClient(opts),
		server:   server,
		instance: uuid.New().String(),
		logger:   logger,
	}
	server.SetBridge(b)
	return b, nil
}

// Instance returns the ID this bridge tags its frames with.
func (b *RedisBridge) Instance() string { return b.instance }

// Publish implements Bridge.
func (b *RedisBridge) Publish(ctx context.Context, room types.RoomName, f Frame) error {
	data, err := json.Marshal(bridgeMessage{Origin: b.instance, Frame: f})
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelPrefix+string(room), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to every room channel and delivers frames published by
// other instances to local participants. It returns when ctx is done.
// ready, if non-nil, is closed once the subscription is active.
func (b *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info("relay bridge subscribed", "instance", b.instance)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *RedisBridge) handle(msg *redis.Message) {
	room := types.RoomName(strings.TrimPrefix(msg.Channel, channelPrefix))
	var bm bridgeMessage
	if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
		b.logger.Warn("invalid bridge message", "channel", msg.Channel, "error", err)
		return
	}
	if bm.Origin == b.instance || bm.Frame.Kind != KindData {
		return
	}
	b.server.Deliver(room, bm.Frame)
}

// Close releases the Redis connection.
func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}
