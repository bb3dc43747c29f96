package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/vnykmshr/webstreams/internal/testutil"
	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
	"github.com/vnykmshr/webstreams/pkg/metrics"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

func TestGetConsolidatedConfig(t *testing.T) {
	t.Parallel()

	testdata := map[string]struct {
		json   string
		env    map[string]string
		config Config
		err    bool
	}{
		"defaults need a key": {
			err: true,
		},
		"json": {
			json: `{"addr":"redis:6379","key":"orders","count":50,"block":"250ms"}`,
			config: NewConfig().Apply(Config{
				Addr:  null.StringFrom("redis:6379"),
				Key:   null.StringFrom("orders"),
				Count: null.IntFrom(50),
				Block: null.StringFrom("250ms"),
			}),
		},
		"env overrides json": {
			json: `{"key":"orders","db":1}`,
			env: map[string]string{
				"WEBSTREAMS_REDIS_KEY":     "payments",
				"WEBSTREAMS_REDIS_MAX_LEN": "1000",
			},
			config: NewConfig().Apply(Config{
				Key:    null.StringFrom("payments"),
				DB:     null.IntFrom(1),
				MaxLen: null.IntFrom(1000),
			}),
		},
		"empty env value keeps json": {
			json: `{"key":"orders","startID":"0"}`,
			env:  map[string]string{"WEBSTREAMS_REDIS_START_ID": ""},
			config: NewConfig().Apply(Config{
				Key:     null.StringFrom("orders"),
				StartID: null.StringFrom("0"),
			}),
		},
		"bad env number": {
			env: map[string]string{
				"WEBSTREAMS_REDIS_KEY":   "orders",
				"WEBSTREAMS_REDIS_COUNT": "many",
			},
			err: true,
		},
		"bad block": {
			json: `{"key":"orders","block":"forever"}`,
			err:  true,
		},
		"zero block": {
			json: `{"key":"orders","block":"0s"}`,
			err:  true,
		},
		"zero count": {
			json: `{"key":"orders","count":0}`,
			err:  true,
		},
		"bad json": {
			json: `{"key":`,
			err:  true,
		},
	}

	for name, data := range testdata {
		data := data
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var raw json.RawMessage
			if data.json != "" {
				raw = json.RawMessage(data.json)
			}
			config, err := GetConsolidatedConfig(raw, data.env)
			if data.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, data.config, config)
		})
	}
}

func TestConfigApply(t *testing.T) {
	base := NewConfig()
	assert.Equal(t, base, base.Apply(Config{}))

	applied := base.Apply(Config{Password: null.StringFrom(""), HighWaterMark: null.IntFrom(0)})
	assert.True(t, applied.Password.Valid)
	assert.Equal(t, int64(0), applied.HighWaterMark.Int64)
	assert.Equal(t, "localhost:6379", applied.Addr.String)
}

func TestConfigOptions(t *testing.T) {
	config := NewConfig().Apply(Config{
		Addr:     null.StringFrom("cache:6380"),
		Password: null.StringFrom("secret"),
		DB:       null.IntFrom(3),
	})
	opts := config.Options()
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
}

func TestInvalidArguments(t *testing.T) {
	config := NewConfig().Apply(Config{Key: null.StringFrom("orders")})

	_, err := NewSource(nil, config, stream.DefaultConfig())
	assert.True(t, wserrors.IsValidationError(err))

	var noClient *redis.Client
	_, err = NewSource(noClient, config, stream.DefaultConfig())
	assert.True(t, wserrors.IsValidationError(err))
	var noCluster *redis.ClusterClient
	_, err = NewSink(noCluster, config, stream.DefaultConfig())
	assert.True(t, wserrors.IsValidationError(err))

	client := unreachableClient(t)
	_, err = NewSink(client, NewConfig(), stream.DefaultConfig())
	assert.True(t, wserrors.IsValidationError(err))
}

// unreachableClient returns a client for a port nothing listens on.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSourceConnectionFailure(t *testing.T) {
	config := NewConfig().Apply(Config{Key: null.StringFrom("orders"), Block: null.StringFrom("50ms")})
	rs, err := NewSource(unreachableClient(t), config, stream.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "orders", rs.Name())

	r, err := rs.GetReader()
	require.NoError(t, err)

	_, err = testutil.Await[stream.ReadResult[Entry]](t, r.Read())
	require.Error(t, err)
	var opErr *wserrors.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "xread", opErr.Operation)
	assert.Equal(t, "key orders", opErr.Context)
	assert.Equal(t, stream.ReadableStateErrored, rs.State())
}

func TestSinkConnectionFailure(t *testing.T) {
	config := NewConfig().Apply(Config{Key: null.StringFrom("orders")})
	ws, err := NewSink(unreachableClient(t), config, stream.DefaultConfig())
	require.NoError(t, err)
	w, err := ws.GetWriter()
	require.NoError(t, err)

	_, err = testutil.Await[struct{}](t, w.Write(Entry{Values: map[string]interface{}{"n": 1}}))
	require.Error(t, err)
	var opErr *wserrors.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "xadd", opErr.Operation)
	assert.Equal(t, "key orders", opErr.Context)
	assert.Equal(t, stream.WritableStateErrored, ws.State())
}

func TestSinkRejectsEmptyEntry(t *testing.T) {
	config := NewConfig().Apply(Config{Key: null.StringFrom("orders")})
	ws, err := NewSink(unreachableClient(t), config, stream.DefaultConfig())
	require.NoError(t, err)
	w, err := ws.GetWriter()
	require.NoError(t, err)

	_, err = testutil.Await[struct{}](t, w.Write(Entry{}))
	assert.ErrorIs(t, err, ErrEmptyEntry)
}

// liveClient connects to the server in REDIS_ADDR, skipping the test when
// it is not set.
func liveClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRoundTrip(t *testing.T) {
	client := liveClient(t)
	key := "webstreams-test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	streamConfig := stream.DefaultConfig()
	streamConfig.Metrics = reg

	config := NewConfig().Apply(Config{
		Key:     null.StringFrom(key),
		StartID: null.StringFrom("0"),
		Block:   null.StringFrom("100ms"),
	})

	entries := make([]Entry, 3)
	for i := range entries {
		entries[i] = Entry{Values: map[string]interface{}{"seq": fmt.Sprint(i)}}
	}

	ws, err := NewSink(client, config, streamConfig)
	require.NoError(t, err)
	done, err := stream.FromSlice(entries).PipeTo(ws, stream.PipeOptions{})
	require.NoError(t, err)
	testutil.MustAwait[struct{}](t, done)

	rs, err := NewSource(client, config, streamConfig)
	require.NoError(t, err)
	r, err := rs.GetReader()
	require.NoError(t, err)

	for i := range entries {
		res := testutil.MustAwait[stream.ReadResult[Entry]](t, r.Read())
		require.False(t, res.Done)
		assert.NotEmpty(t, res.Value.ID)
		assert.Equal(t, fmt.Sprint(i), res.Value.Values["seq"])
	}
	testutil.MustAwait[struct{}](t, r.Cancel(nil))

	assert.Equal(t, 3.0, promtest.ToFloat64(reg.RedisEntries.WithLabelValues("append", key)))
	assert.Equal(t, 3.0, promtest.ToFloat64(reg.RedisEntries.WithLabelValues("read", key)))
}

func TestSinkTrimsStream(t *testing.T) {
	client := liveClient(t)
	key := "webstreams-test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	config := NewConfig().Apply(Config{Key: null.StringFrom(key), MaxLen: null.IntFrom(1)})
	ws, err := NewSink(client, config, stream.DefaultConfig())
	require.NoError(t, err)

	w, err := ws.GetWriter()
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		w.Write(Entry{Values: map[string]interface{}{"i": i}})
	}
	testutil.MustAwait[struct{}](t, w.Close())

	n, err := client.XLen(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Less(t, n, int64(500))
}
