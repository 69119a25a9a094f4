package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func newTestController(t *testing.T, cfg Config) (*Controller, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{mr.Addr()},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(client, cfg, logger)
	require.NoError(t, err)
	return c, mr
}

func TestController_BanAfterNPlusOne(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 4, Window: 600 * time.Second, BanTTL: time.Hour})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		d, err := c.CheckAndConsume(ctx, "collector")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be allowed", i)
	}

	d, err := c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonTooManyMisses, d.Reason)
	assert.Equal(t, time.Hour, d.RetryAfter)

	mr.FastForward(time.Second)

	d, err = c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBanned, d.Reason)
	assert.Equal(t, time.Hour-time.Second, d.RetryAfter)
}

func TestController_BanOutlivesWindow(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 2, Window: 10 * time.Minute, BanTTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.CheckAndConsume(ctx, "collector")
		require.NoError(t, err)
	}

	// the window would have reset by now; the ban must not
	mr.FastForward(11 * time.Minute)

	d, err := c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	assert.Equal(t, ReasonBanned, d.Reason)
}

func TestController_BannedCallsDoNotTouchCounter(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 1, Window: time.Minute, BanTTL: 5 * time.Minute})
	ctx := context.Background()

	_, err := c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	_, err = c.CheckAndConsume(ctx, "collector") // bans
	require.NoError(t, err)

	before, err := mr.Get("quota:{collector}:count")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		d, err := c.CheckAndConsume(ctx, "collector")
		require.NoError(t, err)
		require.Equal(t, ReasonBanned, d.Reason)
	}

	after, err := mr.Get("quota:{collector}:count")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// retrying while banned must not extend the ban
	st, err := c.Status(ctx, "collector")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, st.BanTTL)
}

func TestController_ServiceRestoredAfterBan(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 2, Window: time.Minute, BanTTL: 10 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.CheckAndConsume(ctx, "collector")
		require.NoError(t, err)
	}

	mr.FastForward(10*time.Minute + time.Second)

	for i := 0; i < 2; i++ {
		d, err := c.CheckAndConsume(ctx, "collector")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d after ban expiry", i+1)
	}
	d, err := c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	assert.Equal(t, ReasonTooManyMisses, d.Reason)
}

func TestController_WindowExpirySetOnFirstUse(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 10, Window: 600 * time.Second, BanTTL: time.Hour})
	ctx := context.Background()

	_, err := c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, mr.TTL("quota:{collector}:count"))

	mr.FastForward(100 * time.Second)
	_, err = c.CheckAndConsume(ctx, "collector")
	require.NoError(t, err)
	// later increments must not push the window out
	assert.Equal(t, 500*time.Second, mr.TTL("quota:{collector}:count"))

	mr.FastForward(501 * time.Second)
	st, err := c.Status(ctx, "collector")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Count)
}

func TestController_IdentitiesAreIndependent(t *testing.T) {
	c, _ := newTestController(t, Config{MaxMisses: 1, Window: time.Minute, BanTTL: time.Hour})
	ctx := context.Background()

	_, _ = c.CheckAndConsume(ctx, "na1")
	d, err := c.CheckAndConsume(ctx, "na1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = c.CheckAndConsume(ctx, "euw1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestController_ConcurrentCallersNeverExceedQuota(t *testing.T) {
	const n = 20
	c, _ := newTestController(t, Config{MaxMisses: n, Window: time.Minute, BanTTL: time.Hour})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 4*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := c.CheckAndConsume(ctx, "collector")
			if err != nil {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, allowed)
}

func TestController_FailsClosedWhenStoreDown(t *testing.T) {
	c, mr := newTestController(t, Config{MaxMisses: 5, Window: time.Minute, BanTTL: time.Hour})
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := c.CheckAndConsume(ctx, "collector")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, d.Allowed)
}

func TestNew_ValidatesConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{mr.Addr()},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{MaxMisses: 0, Window: time.Minute, BanTTL: time.Hour}, nil)
	assert.Error(t, err)
	_, err = New(client, Config{MaxMisses: 1, Window: 0, BanTTL: time.Hour}, nil)
	assert.Error(t, err)
	_, err = New(nil, Config{MaxMisses: 1, Window: time.Minute, BanTTL: time.Hour}, nil)
	assert.Error(t, err)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allowed", Decision{Allowed: true}.String())
	assert.Contains(t, Decision{Reason: ReasonBanned, RetryAfter: time.Minute}.String(), "banned")
}
