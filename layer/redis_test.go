package layer_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hymnal/refcache"
	"github.com/hymnal/refcache/layer"
	"github.com/mediocregopher/radix/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	ID   string
	Name string
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *radix.Pool) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	pool, err := radix.NewPool("tcp", s.Addr(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return s, pool
}

func TestRedisGetSet(t *testing.T) {
	_, pool := newRedis(t)
	l, err := layer.NewRedis[string, author](layer.RedisConfig{Client: pool, KeyPrefix: "authors:"})
	require.NoError(t, err)

	errs := l.Set([]string{"h1", "h2"}, [][]author{
		{{ID: "a1", Name: "Lm. Kim Long"}, {ID: "a2", Name: "Hải Linh"}},
		{},
	})
	assert.Equal(t, []error{nil, nil}, errs)

	values, errs := l.Get([]string{"h1", "h2", "h3"})
	require.Len(t, values, 3)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.True(t, refcache.IsNotFound[string](errs[2]))

	assert.Equal(t, []author{{ID: "a1", Name: "Lm. Kim Long"}, {ID: "a2", Name: "Hải Linh"}}, values[0])
	assert.NotNil(t, values[1])
	assert.Empty(t, values[1])
}

func TestRedisKeyPrefix(t *testing.T) {
	s, pool := newRedis(t)
	l, err := layer.NewRedis[int, string](layer.RedisConfig{Client: pool, KeyPrefix: "hymn_authors:"})
	require.NoError(t, err)

	l.Set([]int{42}, [][]string{{"a"}})
	assert.True(t, s.Exists("hymn_authors:42"))
}

func TestRedisRetention(t *testing.T) {
	s, pool := newRedis(t)
	l, err := layer.NewRedis[string, string](layer.RedisConfig{
		Client:    pool,
		KeyPrefix: "p:",
		Retention: time.Minute,
	})
	require.NoError(t, err)

	l.Set([]string{"k"}, [][]string{{"v"}})
	assert.Equal(t, time.Minute, s.TTL("p:k"))

	s.FastForward(2 * time.Minute)
	_, errs := l.Get([]string{"k"})
	assert.True(t, refcache.IsNotFound[string](errs[0]))
}

func TestRedisUnavailable(t *testing.T) {
	s, pool := newRedis(t)
	l, err := layer.NewRedis[string, string](layer.RedisConfig{Client: pool})
	require.NoError(t, err)
	s.Close()

	values, errs := l.Get([]string{"a", "b"})
	assert.Len(t, values, 2)
	for _, err := range errs {
		assert.Error(t, err)
		assert.False(t, refcache.IsNotFound[string](err))
	}
	for _, err := range l.Set([]string{"a"}, [][]string{{"x"}}) {
		assert.Error(t, err)
	}
}

func TestRedisCorruptEntry(t *testing.T) {
	s, pool := newRedis(t)
	l, err := layer.NewRedis[string, string](layer.RedisConfig{Client: pool})
	require.NoError(t, err)
	s.Set("bad", "not gob")

	_, errs := l.Get([]string{"bad"})
	assert.Error(t, errs[0])
	assert.False(t, refcache.IsNotFound[string](errs[0]))
}

func TestNewRedisValidation(t *testing.T) {
	_, err := layer.NewRedis[string, string](layer.RedisConfig{})
	assert.Error(t, err)

	_, pool := newRedis(t)
	_, err = layer.NewRedis[string, string](layer.RedisConfig{Client: pool, Retention: -time.Second})
	assert.Error(t, err)
}

// two resolvers in different processes share the lists through redis
func TestRedisSharedBetweenResolvers(t *testing.T) {
	_, pool := newRedis(t)
	calls := 0
	collector := refcache.CollectorFunc[string, string](func(ctx context.Context, keys []string) (map[string][]string, error) {
		calls++
		result := make(map[string][]string)
		for _, k := range keys {
			result[k] = []string{"author-of-" + k}
		}
		return result, nil
	})

	newResolver := func() *refcache.Resolver[string, string] {
		l, err := layer.NewRedis[string, string](layer.RedisConfig{Client: pool, KeyPrefix: "hymn_authors:"})
		require.NoError(t, err)
		return refcache.Must(refcache.New(refcache.Config[string, string]{
			Collector: collector,
			Layers:    []refcache.Layer[string, string]{l},
			Batcher:   refcache.BatcherConfig{Wait: time.Millisecond},
			Waiter:    refcache.WaiterConfig{AttemptDelay: 20 * time.Millisecond},
		}))
	}

	first := newResolver()
	r, err := first.Resolve(context.Background(), []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"author-of-h1"}, r["h1"])

	// layer priming happens right after the cache write
	assert.Eventually(t, func() bool {
		var n int
		_ = pool.Do(radix.Cmd(&n, "EXISTS", "hymn_authors:h1", "hymn_authors:h2"))
		return n == 2
	}, time.Second, 5*time.Millisecond)

	second := newResolver()
	r, err = second.Resolve(context.Background(), []string{"h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"author-of-h2"}, r["h2"])
	assert.Equal(t, 1, calls)
}
