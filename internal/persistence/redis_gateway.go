package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/slogging"
)

// RedisOptions holds the Redis connection configuration
type RedisOptions struct {
	Addr      string
	Password  string //nolint:gosec // G117 - Redis connection password
	DB        int
	KeyPrefix string
	// SessionTTL expires idle session keys; zero keeps them forever
	SessionTTL time.Duration
	// Instrument adds OpenTelemetry tracing and metrics to the client
	Instrument bool
}

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	logger := slogging.Get()
	logger.Debug("Initializing Redis connection to %s DB=%d", opts.Addr, opts.DB)

	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	})

	if opts.Instrument {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to instrument redis metrics: %w", err)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Debug("Redis connection established successfully")

	return client, nil
}

// Session hash fields
const (
	fieldSessionID    = "session_id"
	fieldRoomID       = "room_id"
	fieldCreatedBy    = "created_by"
	fieldCreatedAt    = "created_at"
	fieldCanvas       = "canvas_data"
	fieldDrawingLayer = "drawing_layer_data"
)

// RedisGateway stores sessions in Redis: one hash per session, a set of user
// names per session and a set of active session ids
type RedisGateway struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGateway creates a gateway on an existing client
func NewRedisGateway(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisGateway {
	return &RedisGateway{client: client, prefix: keyPrefix, ttl: ttl}
}

func (g *RedisGateway) sessionKey(id string) string { return g.prefix + "session:" + id }
func (g *RedisGateway) usersKey(id string) string   { return g.prefix + "session:" + id + ":users" }
func (g *RedisGateway) activeKey() string           { return g.prefix + "sessions:active" }

// GetSession implements Gateway
func (g *RedisGateway) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var (
		fields *redis.MapStringStringCmd
		users  *redis.IntCmd
	)
	_, err := g.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, g.sessionKey(sessionID))
		users = pipe.SCard(ctx, g.usersKey(sessionID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	values := fields.Val()
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	rec := &SessionRecord{
		SessionID:    sessionID,
		RoomID:       values[fieldRoomID],
		CreatedBy:    values[fieldCreatedBy],
		Participants: int(users.Val()),
	}
	if v := values[fieldCanvas]; v != "" {
		rec.CanvasData = canvas.PNGDataURLPrefix + v
	}
	if v := values[fieldDrawingLayer]; v != "" {
		rec.DrawingLayerData = canvas.PNGDataURLPrefix + v
	}
	if v, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(v, 0).UTC()
	}
	return rec, nil
}

// CreateUser implements Gateway. The session hash is created on first use;
// adding a user twice is not an error.
func (g *RedisGateway) CreateUser(ctx context.Context, userName, sessionID, roomID string) error {
	key := g.sessionKey(sessionID)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldSessionID, sessionID)
		pipe.HSetNX(ctx, key, fieldRoomID, roomID)
		pipe.HSetNX(ctx, key, fieldCreatedBy, userName)
		pipe.HSetNX(ctx, key, fieldCreatedAt, strconv.FormatInt(time.Now().Unix(), 10))
		pipe.SAdd(ctx, g.usersKey(sessionID), userName)
		pipe.SAdd(ctx, g.activeKey(), sessionID)
		g.expire(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s in session %s: %w", userName, sessionID, err)
	}
	return nil
}

// UpdateCanvasState implements Gateway
func (g *RedisGateway) UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, isDrawingLayer bool) error {
	field := fieldCanvas
	if isDrawingLayer {
		field = fieldDrawingLayer
	}
	key := g.sessionKey(sessionID)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldSessionID, sessionID)
		pipe.HSet(ctx, key, field, canvas.StripDataURLPrefix(imageDataURL))
		pipe.SAdd(ctx, g.activeKey(), sessionID)
		g.expire(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update canvas of session %s: %w", sessionID, err)
	}
	return nil
}

// ListActiveSessions implements Gateway. Ids whose hash has expired are
// pruned from the active set.
func (g *RedisGateway) ListActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	ids, err := g.client.SMembers(ctx, g.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	records := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := g.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			g.client.SRem(ctx, g.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// DeleteSession removes a session and its users
func (g *RedisGateway) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, g.sessionKey(sessionID), g.usersKey(sessionID))
		pipe.SRem(ctx, g.activeKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (g *RedisGateway) expire(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	if g.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, g.sessionKey(sessionID), g.ttl)
	pipe.Expire(ctx, g.usersKey(sessionID), g.ttl)
}
