package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backplaneChannelPrefix namespaces room channels in Redis. One Redis
// channel per room keeps per-room ordering: Redis delivers messages on a
// single channel in publish order.
const backplaneChannelPrefix = "chat.room."

// envelope is what crosses Redis. Origin identifies the publishing
// instance so it can skip its own messages on the way back in — local
// subscribers already got the event directly from the local broker.
type envelope struct {
	Origin string          `json:"origin"`
	RoomID int64           `json:"room_id"`
	Event  json.RawMessage `json:"event"`
}

// Backplane mirrors room events through Redis pub/sub so several server
// instances can fan out to their own websocket clients. It implements
// Publisher: local delivery happens first through the wrapped broker, then
// the event is published to the room's Redis channel for everyone else.
//
// Delivery stays best-effort end to end; Redis pub/sub does not persist,
// which matches the broker's own contract.
type Backplane struct {
	instanceID string
	rdb        *redis.Client
	broker     *Broker
	logger     *zap.Logger
}

func NewBackplane(redisURL string, broker *Broker, logger *zap.Logger) (*Backplane, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Backplane{
		instanceID: uuid.NewString(),
		rdb:        redis.NewClient(opts),
		broker:     broker,
		logger:     logger,
	}, nil
}

// Publish delivers locally, then mirrors to Redis. A Redis failure is
// logged and swallowed: local subscribers already have the event, and the
// room keeps working single-instance.
func (b *Backplane) Publish(roomID int64, ev Event) {
	b.broker.Publish(roomID, ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal event for backplane", zap.Error(err))
		return
	}
	env, err := json.Marshal(envelope{
		Origin: b.instanceID,
		RoomID: roomID,
		Event:  payload,
	})
	if err != nil {
		b.logger.Error("failed to marshal backplane envelope", zap.Error(err))
		return
	}

	channel := backplaneChannelPrefix + strconv.FormatInt(roomID, 10)
	if err := b.rdb.Publish(context.Background(), channel, env).Err(); err != nil {
		b.logger.Warn("backplane publish failed", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

// Run subscribes to every room channel and re-broadcasts remote events to
// the local broker. Blocks until ctx is canceled.
func (b *Backplane) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, backplaneChannelPrefix+"*")
	defer sub.Close()

	b.logger.Info("redis backplane running", zap.String("instance_id", b.instanceID))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("backplane subscription closed")
			}
			b.handleRemote(msg)
		}
	}
}

func (b *Backplane) handleRemote(msg *redis.Message) {
	if !strings.HasPrefix(msg.Channel, backplaneChannelPrefix) {
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("dropping malformed backplane message", zap.Error(err))
		return
	}
	if env.Origin == b.instanceID {
		return
	}

	var ev Event
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		b.logger.Warn("dropping malformed backplane event", zap.Error(err))
		return
	}

	b.broker.Publish(env.RoomID, ev)
}

// Close releases the Redis client.
func (b *Backplane) Close() error {
	return b.rdb.Close()
}
