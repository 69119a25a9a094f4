// Package ratelimit enforces the per-identity ingestion quota in a shared
// valkey/Redis store, so every collector process sees the same counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"match-ingest/internal/metrics"
)

// Reason explains a Decision
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonTooManyMisses Reason = "too_many_misses"
	ReasonBanned        Reason = "banned"
	ReasonStoreDown     Reason = "store_unavailable"
)

// Decision is the outcome of one CheckAndConsume call
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied(%s, retry after %s)", d.Reason, d.RetryAfter)
}

// ErrStoreUnavailable wraps any failure talking to the shared store.
// Callers must treat it as a denial.
var ErrStoreUnavailable = errors.New("ratelimit: quota store unavailable")

// Config sets the quota: MaxMisses calls per Window, then a ban lasting BanTTL
type Config struct {
	MaxMisses int
	Window    time.Duration
	BanTTL    time.Duration
	KeyPrefix string
}

func (c Config) validate() error {
	if c.MaxMisses <= 0 {
		return fmt.Errorf("ratelimit: MaxMisses must be positive, got %d", c.MaxMisses)
	}
	if c.Window < time.Millisecond || c.BanTTL < time.Millisecond {
		return fmt.Errorf("ratelimit: Window and BanTTL must be at least 1ms")
	}
	return nil
}

// The whole check runs server-side so concurrent callers cannot both slip
// under the limit.
//
// KEYS[1] counter, KEYS[2] ban flag
// ARGV[1] max misses, ARGV[2] window ms, ARGV[3] ban ms
// returns {code, value}: {0, count} allowed, {1, ban ms} newly banned, {2, ttl ms} already banned
const checkAndConsumeLua = `
local ban = redis.call('PTTL', KEYS[2])
if ban > 0 then
  return {2, ban}
end
if ban == -1 then
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
  return {2, tonumber(ARGV[3])}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
  return {1, tonumber(ARGV[3])}
end
return {0, count}
`

const (
	codeAllowed   = 0
	codeNewBan    = 1
	codeBanActive = 2
)

// Controller is the shared-store quota
type Controller struct {
	client valkey.Client
	cfg    Config
	script *valkey.Lua
	logger *slog.Logger
}

// New validates cfg and returns a Controller over client
func New(client valkey.Client, cfg Config, logger *slog.Logger) (*Controller, error) {
	if client == nil {
		return nil, errors.New("ratelimit: valkey client is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quota"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client: client,
		cfg:    cfg,
		script: valkey.NewLuaScript(checkAndConsumeLua),
		logger: logger,
	}, nil
}

// Dial connects to the store at addr and pings it
func Dial(ctx context.Context, addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrStoreUnavailable, addr, err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, addr, err)
	}
	return client, nil
}

// keys share a hash tag so the script stays on one cluster slot
func (c *Controller) keys(identity string) (counter, ban string) {
	return c.cfg.KeyPrefix + ":{" + identity + "}:count", c.cfg.KeyPrefix + ":{" + identity + "}:ban"
}

// CheckAndConsume records one ingestion call for identity and reports
// whether it may proceed. Store failures deny and return ErrStoreUnavailable.
func (c *Controller) CheckAndConsume(ctx context.Context, identity string) (Decision, error) {
	counterKey, banKey := c.keys(identity)
	args := []string{
		strconv.Itoa(c.cfg.MaxMisses),
		strconv.FormatInt(c.cfg.Window.Milliseconds(), 10),
		strconv.FormatInt(c.cfg.BanTTL.Milliseconds(), 10),
	}

	values, err := c.script.Exec(ctx, c.client, []string{counterKey, banKey}, args).ToArray()
	if err != nil {
		metrics.QuotaDecisions.WithLabelValues(string(ReasonStoreDown)).Inc()
		return Decision{Reason: ReasonStoreDown}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(values) != 2 {
		return Decision{Reason: ReasonStoreDown}, fmt.Errorf("%w: unexpected script reply len %d", ErrStoreUnavailable, len(values))
	}
	code, err := values[0].AsInt64()
	if err != nil {
		return Decision{Reason: ReasonStoreDown}, fmt.Errorf("%w: parse code: %v", ErrStoreUnavailable, err)
	}
	value, err := values[1].AsInt64()
	if err != nil {
		return Decision{Reason: ReasonStoreDown}, fmt.Errorf("%w: parse value: %v", ErrStoreUnavailable, err)
	}

	var d Decision
	switch code {
	case codeAllowed:
		d = Decision{Allowed: true}
	case codeNewBan:
		d = Decision{Reason: ReasonTooManyMisses, RetryAfter: time.Duration(value) * time.Millisecond}
		c.logger.Warn("quota_ban_recorded",
			"identity", identity, "max_misses", c.cfg.MaxMisses, "window", c.cfg.Window, "ban", d.RetryAfter)
	case codeBanActive:
		d = Decision{Reason: ReasonBanned, RetryAfter: time.Duration(value) * time.Millisecond}
	default:
		return Decision{Reason: ReasonStoreDown}, fmt.Errorf("%w: unknown script code %d", ErrStoreUnavailable, code)
	}

	label := "allowed"
	if !d.Allowed {
		label = string(d.Reason)
	}
	metrics.QuotaDecisions.WithLabelValues(label).Inc()
	return d, nil
}

// Status is a read-only view of identity's quota state
type Status struct {
	Count  int64
	BanTTL time.Duration // 0 when not banned
}

// Status reads the current counter and ban without consuming quota
func (c *Controller) Status(ctx context.Context, identity string) (Status, error) {
	counterKey, banKey := c.keys(identity)

	count, err := c.client.Do(ctx, c.client.B().Get().Key(counterKey).Build()).AsInt64()
	if err != nil && !valkey.IsValkeyNil(err) {
		return Status{}, fmt.Errorf("%w: get counter: %v", ErrStoreUnavailable, err)
	}
	pttl, err := c.client.Do(ctx, c.client.B().Pttl().Key(banKey).Build()).AsInt64()
	if err != nil {
		return Status{}, fmt.Errorf("%w: ban ttl: %v", ErrStoreUnavailable, err)
	}

	st := Status{Count: count}
	if pttl > 0 {
		st.BanTTL = time.Duration(pttl) * time.Millisecond
	}
	return st, nil
}
