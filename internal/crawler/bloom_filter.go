package crawler

import (
	"fmt"
	"strings"

	redisbloom "github.com/RedisBloom/redisbloom-go"
	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"go.uber.org/zap"
)

// LinkFilter is a probabilistic "already enqueued" check for discovered links.
type LinkFilter interface {
	Add(url string) error
	Exists(url string) (bool, error)
}

// BloomFilter is a LinkFilter backed by a RedisBloom filter, so that crawl
// runs sharing a Redis also share it.
type BloomFilter struct {
	client *redisbloom.Client
	key    string
}

func NewRedisBloomFilter(cfg *config.RedisConfig, logger *zap.Logger) (*BloomFilter, error) {
	var password *string
	if cfg.Password != "" {
		password = &cfg.Password
	}
	client := redisbloom.NewClient(cfg.Addr, "crawlindex", password)
	if err := client.Reserve(cfg.BloomKey, cfg.BloomErrorRate, cfg.BloomCapacity); err != nil {
		if !strings.Contains(err.Error(), "item exists") {
			return nil, fmt.Errorf("could not reserve bloom filter: %w", err)
		}
		common.OrNop(logger).Debug("bloom filter already reserved", zap.String("key", cfg.BloomKey))
	}
	return &BloomFilter{
		client: client,
		key:    cfg.BloomKey,
	}, nil
}

func (r *BloomFilter) Add(url string) error {
	_, err := r.client.Add(r.key, url)
	return err
}

func (r *BloomFilter) Exists(url string) (bool, error) {
	exists, err := r.client.Exists(r.key, url)
	if err != nil {
		return false, fmt.Errorf("failed to check bloom filter: %w", err)
	}
	return exists, nil
}
