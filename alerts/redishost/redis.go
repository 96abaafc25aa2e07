package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/humanneeded-go/alerts"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for a Redis-backed Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: ALERTS_KEY_PREFIX
	KeyPrefix string `env:"ALERTS_KEY_PREFIX,default=humanneeded:"`
	// StreamMaxLen caps each topic stream (approximate trimming).
	StreamMaxLen int64 `env:"ALERTS_STREAM_MAXLEN,default=1000"`
}

const (
	defaultPrefix = "humanneeded:"
	defaultMaxLen = 1000
	readBlock     = 500 * time.Millisecond
	readCount     = 64
)

type Host struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Host{client: cl, keyPrefix: prefix, maxLen: maxLen}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

var _ alerts.Host = (*Host)(nil)

// --- Key helpers ---

func (h *Host) streamKey(topic string) string      { return h.keyPrefix + "topic:" + topic }
func (h *Host) alertsKey(assistantID string) string { return h.keyPrefix + "alerts:" + assistantID }
func (h *Host) assistantsKey() string               { return h.keyPrefix + "assistants" }

// --- Messaging via Redis Streams ---

func (h *Host) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	return h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.streamKey(topic),
		MaxLen: h.maxLen,
		Approx: true,
		Values: map[string]interface{}{"d": data},
	}).Result()
}

func (h *Host) Subscribe(ctx context.Context, topic string) (alerts.UpdateStream, error) {
	key := h.streamKey(topic)

	// Pin the starting point now so messages published after Subscribe
	// returns are never missed, even before the first Next.
	start := "0-0"
	last, err := h.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	if len(last) > 0 {
		start = last[0].ID
	}

	sctx, cancel := context.WithCancel(ctx)
	return &stream{h: h, key: key, last: start, ctx: sctx, cancel: cancel}, nil
}

type stream struct {
	h    *Host
	key  string
	last string
	buf  []alerts.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool
}

func (s *stream) Next(ctx context.Context) (alerts.Envelope, error) {
	if s.closed.Load() {
		return alerts.Envelope{}, alerts.ErrStreamClosed
	}
	if len(s.buf) > 0 {
		env := s.buf[0]
		s.buf = s.buf[1:]
		return env, nil
	}

	readCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	for {
		if err := readCtx.Err(); err != nil {
			return alerts.Envelope{}, s.stopErr(ctx)
		}
		res, err := s.h.client.XRead(readCtx, &redis.XReadArgs{
			Streams: []string{s.key, s.last},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if readCtx.Err() != nil {
				return alerts.Envelope{}, s.stopErr(ctx)
			}
			return alerts.Envelope{}, fmt.Errorf("redis xread: %w", err)
		}
		for _, st := range res {
			for _, m := range st.Messages {
				s.last = m.ID
				s.buf = append(s.buf, alerts.Envelope{ID: m.ID, Data: payload(m.Values["d"])})
			}
		}
		if len(s.buf) > 0 {
			env := s.buf[0]
			s.buf = s.buf[1:]
			return env, nil
		}
	}
}

// stopErr explains why a read was interrupted.
func (s *stream) stopErr(ctx context.Context) error {
	if s.closed.Load() {
		return alerts.ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return alerts.ErrStreamClosed
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	return nil
}

func payload(v interface{}) []byte {
	switch v := v.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

// --- Alert state ---

func (h *Host) PutAlert(ctx context.Context, a alerts.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, h.alertsKey(a.AssistantID), a.ConversationID, data)
		p.SAdd(ctx, h.assistantsKey(), a.AssistantID)
		return nil
	})
	return err
}

// deleteScript removes one conversation from an assistant hash and drops
// the assistant from the index once its hash is empty.
var deleteScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then
  return false
end
redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('HLEN', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
return v
`)

func (h *Host) DeleteAlert(ctx context.Context, assistantID, conversationID string) (alerts.Alert, bool, error) {
	raw, err := deleteScript.Run(ctx, h.client,
		[]string{h.alertsKey(assistantID), h.assistantsKey()},
		conversationID, assistantID,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return alerts.Alert{}, false, nil
		}
		return alerts.Alert{}, false, err
	}
	var a alerts.Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return alerts.Alert{}, false, fmt.Errorf("decode alert: %w", err)
	}
	return a, true, nil
}

func (h *Host) ListAlerts(ctx context.Context, assistantID string) ([]alerts.Alert, error) {
	assistants := []string{assistantID}
	if assistantID == "" {
		ids, err := h.client.SMembers(ctx, h.assistantsKey()).Result()
		if err != nil {
			return nil, err
		}
		assistants = ids
	}

	var out []alerts.Alert
	for _, id := range assistants {
		vals, err := h.client.HVals(ctx, h.alertsKey(id)).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			var a alerts.Alert
			if err := json.Unmarshal([]byte(v), &a); err != nil {
				return nil, fmt.Errorf("decode alert: %w", err)
			}
			out = append(out, a)
		}
	}
	return out, nil
}
