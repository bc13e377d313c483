package crawler

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsCache keeps the parsed robots.txt group of every host seen so far.
// A host whose robots.txt cannot be fetched is treated as allowing everything.
type robotsCache struct {
	fetcher   *Fetcher
	userAgent string
	logger    *zap.Logger

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsCache(f *Fetcher, userAgent string, logger *zap.Logger) *robotsCache {
	return &robotsCache{
		fetcher:   f,
		userAgent: userAgent,
		logger:    logger,
		groups:    make(map[string]*robotstxt.Group),
	}
}

func (c *robotsCache) allowed(ctx context.Context, u *url.URL) bool {
	key := u.Scheme + "://" + u.Host
	c.mu.Lock()
	group, ok := c.groups[key]
	c.mu.Unlock()
	if !ok {
		group = c.load(ctx, key)
		c.mu.Lock()
		c.groups[key] = group
		c.mu.Unlock()
	}
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (c *robotsCache) load(ctx context.Context, origin string) *robotstxt.Group {
	if err := c.fetcher.wait(ctx, hostOf(origin)); err != nil {
		return nil
	}
	resp, err := c.fetcher.get(ctx, origin+"/robots.txt")
	if err != nil {
		c.logger.Debug("robots.txt unavailable", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug("robots.txt unparsable", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data.FindGroup(c.userAgent)
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return origin
	}
	return u.Host
}
