package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/stretchr/testify/require"
)

func newRemote(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Default().Redis
	cfg.Addr = mr.Addr()
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond
	cfg.OpTimeout = 300 * time.Millisecond
	c := cache.NewClient(&cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestURLSeenAfterMark(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()

	require.False(t, d.IsURLSeen(ctx, "https://example.com/a"))
	d.MarkURLSeen(ctx, "https://example.com/a#intro")
	require.True(t, d.IsURLSeen(ctx, "https://EXAMPLE.com/a"))
	require.Equal(t, RemoteAvailable, d.State())

	key := cache.URLKey(common.HashURL("https://example.com/a"))
	require.True(t, mr.Exists(key))
	require.Equal(t, cache.URLTTL, mr.TTL(key))
}

func TestURLHitRefreshesTTL(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()

	d.MarkURLSeen(ctx, "https://example.com/")
	key := cache.URLKey(common.HashURL("https://example.com/"))
	mr.FastForward(20 * time.Hour)
	require.True(t, d.IsURLSeen(ctx, "https://example.com/"))
	require.Equal(t, cache.URLTTL, mr.TTL(key))
}

func TestURLEntryExpires(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()

	d.MarkURLSeen(ctx, "https://example.com/old")
	mr.FastForward(cache.URLTTL + time.Minute)
	require.False(t, d.IsURLSeen(ctx, "https://example.com/old"))
}

func TestContentOwner(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()

	h := common.HashContent([]byte("<html>same body</html>"))
	require.False(t, d.IsContentSeen(ctx, h))
	d.MarkContentSeen(ctx, h, 17)
	require.True(t, d.IsContentSeen(ctx, h))

	owner, ok := d.ContentOwner(ctx, h)
	require.True(t, ok)
	require.Equal(t, uint64(17), owner)

	val, err := mr.Get(cache.ContentKey(h))
	require.NoError(t, err)
	require.Equal(t, "17", val)
	require.Equal(t, cache.ContentTTL, mr.TTL(cache.ContentKey(h)))
}

func TestDegradesToLocalWhenRemoteUnreachable(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{LocalFallback: true}, nil)
	ctx := context.Background()
	mr.Close()

	require.False(t, d.IsURLSeen(ctx, "https://example.com/x"))
	require.Equal(t, LocalOnly, d.State())

	d.MarkURLSeen(ctx, "https://example.com/x")
	require.True(t, d.IsURLSeen(ctx, "https://example.com/x"))

	d.MarkContentSeen(ctx, 99, 3)
	owner, ok := d.ContentOwner(ctx, 99)
	require.True(t, ok)
	require.Equal(t, uint64(3), owner)
	require.Equal(t, int64(1), d.Stats().Degradations)
}

func TestDegradesDuringMarkWithoutFallback(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()
	mr.Close()

	d.MarkURLSeen(ctx, "https://example.com/y")
	require.Equal(t, LocalOnly, d.State())
	require.True(t, d.IsURLSeen(ctx, "https://example.com/y"))
}

func TestRemoteMissDoesNotHideLocalMatch(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{LocalFallback: true}, nil)
	ctx := context.Background()

	d.MarkURLSeen(ctx, "https://example.com/z")
	mr.FlushAll()
	require.True(t, d.IsURLSeen(ctx, "https://example.com/z"))
}

func TestProbeRestoresRemote(t *testing.T) {
	remote, mr := newRemote(t)
	d := New(remote, Options{}, nil)
	ctx := context.Background()

	mr.Close()
	d.MarkURLSeen(ctx, "https://example.com/p")
	require.Equal(t, LocalOnly, d.State())
	require.Equal(t, LocalOnly, d.Probe(ctx))

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return d.Probe(ctx) == RemoteAvailable
	}, 2*time.Second, 20*time.Millisecond)

	// marked while degraded, still answered from the local tier
	require.True(t, d.IsURLSeen(ctx, "https://example.com/p"))
}

func TestStartDegradedRejoinsRemote(t *testing.T) {
	remote, mr := newRemote(t)
	mr.Close()

	d := New(remote, Options{StartDegraded: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Equal(t, LocalOnly, d.State())

	d.MarkURLSeen(ctx, "https://example.com/early")
	go d.RunProbe(ctx, 10*time.Millisecond)

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return d.State() == RemoteAvailable
	}, 2*time.Second, 10*time.Millisecond)

	d.MarkURLSeen(ctx, "https://example.com/late")
	require.True(t, mr.Exists(cache.URLKey(common.HashURL("https://example.com/late"))))
	require.True(t, d.IsURLSeen(ctx, "https://example.com/early"))
}

func TestLocalOnlyWithoutRemote(t *testing.T) {
	d := New(nil, Options{}, nil)
	ctx := context.Background()

	require.Equal(t, LocalOnly, d.State())
	require.False(t, d.IsURLSeen(ctx, "https://example.com/"))
	d.MarkURLSeen(ctx, "https://example.com/")
	require.True(t, d.IsURLSeen(ctx, "https://example.com"))
	require.Equal(t, LocalOnly, d.Probe(ctx))
}

func TestConcurrentMarks(t *testing.T) {
	d := New(nil, Options{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.MarkContentSeen(ctx, uint64(w*1000+i), uint64(i))
				d.MarkURLSeen(ctx, "https://example.com/page")
			}
		}(w)
	}
	wg.Wait()

	stats := d.Stats()
	require.Equal(t, 1, stats.LocalURLs)
	require.Equal(t, 1600, stats.LocalContent)
}
