package redis

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &RedisConfig{}
	applyDefaults(cfg)

	assert.Equal(t, 10*runtime.GOMAXPROCS(0), cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 512*time.Millisecond, cfg.MaxRetryBackoff)
	assert.Equal(t, ModeStandalone, cfg.Mode)

	cfg = &RedisConfig{PoolSize: 4, DialTimeout: time.Second}
	applyDefaults(cfg)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, time.Second, cfg.DialTimeout)
}

func TestBuildTLSConfig(t *testing.T) {
	tlsCfg, err := buildTLSConfig(&RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	tlsCfg, err = buildTLSConfig(&RedisConfig{TLSEnabled: true, TLSInsecure: true})
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)

	_, err = buildTLSConfig(&RedisConfig{TLSEnabled: true, TLSCAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestUniversalOptions_Endpoints(t *testing.T) {
	tests := []struct {
		name string
		cfg  RedisConfig
		want []string
	}{
		{"standalone uses addr", RedisConfig{Mode: ModeStandalone, Addr: "cache:6379", Addrs: []string{"ignored:1"}}, []string{"cache:6379"}},
		{"sentinel uses addrs", RedisConfig{Mode: ModeSentinel, Addr: "ignored:1", Addrs: []string{"s1:26379", "s2:26379"}}, []string{"s1:26379", "s2:26379"}},
		{"cluster uses addrs", RedisConfig{Mode: ModeCluster, Addrs: []string{"seed:7000"}}, []string{"seed:7000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			opts := universalOptions(&cfg, nil)
			assert.Equal(t, tt.want, opts.Addrs)
		})
	}
}

func TestDial_ModeSelectsClient(t *testing.T) {
	cfg := &RedisConfig{Mode: ModeCluster, Addrs: []string{"seed:7000"}}
	applyDefaults(cfg)
	rdb := dial(cfg, universalOptions(cfg, nil))
	defer rdb.Close()
	_, isCluster := rdb.(*goredis.ClusterClient)
	assert.True(t, isCluster, "a single seed still yields a cluster client")

	cfg = &RedisConfig{Addr: "localhost:6379"}
	applyDefaults(cfg)
	rdb = dial(cfg, universalOptions(cfg, nil))
	defer rdb.Close()
	_, isSimple := rdb.(*goredis.Client)
	assert.True(t, isSimple)
}

func TestNewClient_ConnectionFailure(t *testing.T) {
	_, err := NewClient(&RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1}, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeServiceUnavailable))
}

func TestClient_Commands(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewClientFromUniversal(db, nil, nil)
	ctx := context.Background()
	assert.Equal(t, ModeStandalone, c.Mode())

	mock.ExpectPing().SetVal("PONG")
	mock.ExpectSet("k", "v", time.Minute).SetVal("OK")
	mock.ExpectGet("k").SetVal("v")
	mock.ExpectExists("k").SetVal(1)
	mock.ExpectDel("k").SetVal(1)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute).Err())
	val, err := c.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	n, err := c.Exists(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, c.Del(ctx, "k").Err())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_ClosedRejectsCommands(t *testing.T) {
	db, _ := redismock.NewClientMock()
	c := NewClientFromUniversal(db, nil, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	ctx := context.Background()
	assert.True(t, errors.Is(c.Ping(ctx), ErrClientClosed))
	assert.True(t, errors.Is(c.Get(ctx, "k").Err(), ErrClientClosed))
	assert.True(t, errors.Is(c.Set(ctx, "k", 1, 0).Err(), ErrClientClosed))
	assert.True(t, errors.Is(c.Del(ctx, "k").Err(), ErrClientClosed))
	assert.True(t, errors.Is(c.Exists(ctx, "k").Err(), ErrClientClosed))
	assert.True(t, errors.Is(c.Scan(ctx, 0, "*", 10).Err(), ErrClientClosed))
}
