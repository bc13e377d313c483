package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "CRAWLINDEX"

// Default mirrors the settings the crawler has always shipped with.
func Default() *Config {
	return &Config{
		Env:     "prod",
		Workers: 8,
		Scheduler: SchedulerConfig{
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			HostCooldown:    time.Second,
			JanitorInterval: time.Minute,
		},
		Fetcher: FetcherConfig{
			ConnectTimeout:   5 * time.Second,
			ReadTimeout:      10 * time.Second,
			MaxRedirects:     5,
			UserAgent:        "WebCrawler/1.0",
			RateLimitPerHost: 10,
			MaxBodyBytes:     10 << 20,
			RespectRobots:    true,
		},
		Crawl: CrawlConfig{
			SeedFile:     "seed_urls.csv",
			SeedPriority: 10,
			MinPriority:  7,
		},
		Redis: RedisConfig{
			Enabled:        true,
			Addr:           "localhost:6379",
			PoolSize:       10,
			DialTimeout:    2 * time.Second,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			OpTimeout:      2 * time.Second,
			BloomKey:       "visited_url",
			BloomCapacity:  1_000_000,
			BloomErrorRate: 0.01,
		},
		Dedup: DedupConfig{
			LocalFallback: true,
			ProbeInterval: 30 * time.Second,
		},
		Index: IndexerConfig{
			Dir:               "./data/index",
			MaxDocsPerSegment: 100_000,
			MaxSegments:       8,
			AvgLengthPolicy:   "resident",
			PoolSize:          4,
		},
		Mongo: MongoConfig{
			DBName:    "crawlindex",
			PagesColl: "pages",
		},
		Query: QueryConfig{
			DefaultTopK: 10,
			MaxTopK:     100,
			CacheSize:   1000,
			CacheTTL:    5 * time.Minute,
		},
		Search: SearchAPIConfig{
			HTTPAddr:     "0.0.0.0:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Load reads path (yaml) on top of Default, applies CRAWLINDEX_* env overrides and validates.
// A missing file is only an error when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if required || !(errors.As(err, &notFound) || isNotExist(err)) {
			return nil, fmt.Errorf("cannot read the config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("error decoding the config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so the keys
// present in the default config are registered up front.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"env", "workers",
		"redis.enabled", "redis.addr", "redis.password",
		"mongo.uri", "index.dir", "index.postgres_dsn",
		"search.http_addr", "crawl.seed_file",
	} {
		_ = v.BindEnv(key)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (c *Config) Validate() error {
	translateError := func(e validator.FieldError) string {
		switch e.ActualTag() {
		case "required":
			return "value is empty"
		case "oneof":
			return fmt.Sprintf("must be one of [%s]", e.Param())
		case "min":
			return fmt.Sprintf("must be >= %s", e.Param())
		case "gt":
			return fmt.Sprintf("must be > %s", e.Param())
		default:
			return fmt.Sprintf("invalid value (%s)", e.Tag())
		}
	}

	var problems []string
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("> %s: %s", fe.Namespace(), translateError(fe)))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "> Config.Redis.Addr: value is empty")
	}
	if c.Mongo.URI != "" && (c.Mongo.DBName == "" || c.Mongo.PagesColl == "") {
		problems = append(problems, "> Config.Mongo: db_name and pages_coll are required with uri")
	}
	if c.Query.MaxTopK < c.Query.DefaultTopK {
		problems = append(problems, "> Config.Query.MaxTopK: must be >= default_top_k")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config values:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}
