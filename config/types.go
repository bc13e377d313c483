package config

import "time"

type Config struct {
	// prod, dev or test; selects the logger preset
	Env       string          `yaml:"env" validate:"oneof=prod production dev development test"`
	Workers   int             `yaml:"workers" validate:"min=1"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Redis     RedisConfig     `yaml:"redis"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Index     IndexerConfig   `yaml:"index"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Query     QueryConfig     `yaml:"query"`
	Search    SearchAPIConfig `yaml:"search"`
}

type SchedulerConfig struct {
	MaxRetries   int           `yaml:"max_retries" validate:"min=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	// a host that just failed is not handed out again before this elapses
	HostCooldown    time.Duration `yaml:"host_cooldown" validate:"min=0"`
	JanitorInterval time.Duration `yaml:"janitor_interval" validate:"gt=0"`
}

type FetcherConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	MaxRedirects   int           `yaml:"max_redirects" validate:"min=0"`
	UserAgent      string        `yaml:"user_agent" validate:"required"`
	ProxyURL       string        `yaml:"proxy_url"`
	// requests per second per host, 0 disables limiting
	RateLimitPerHost float64 `yaml:"rate_limit_per_host" validate:"min=0"`
	MaxBodyBytes     int64   `yaml:"max_body_bytes" validate:"gt=0"`
	RespectRobots    bool    `yaml:"respect_robots"`
}

type CrawlConfig struct {
	SeedFile     string `yaml:"seed_file"`
	SeedPriority int    `yaml:"seed_priority"`
	// discovered links below this priority are dropped, which bounds crawl depth
	MinPriority  int  `yaml:"min_priority"`
	SameHostOnly bool `yaml:"same_host_only"`
	// 0 means unbounded
	MaxPages     int64 `yaml:"max_pages" validate:"min=0"`
	StopWhenIdle bool  `yaml:"stop_when_idle"`
	UseBloom     bool  `yaml:"use_bloom"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" validate:"min=1"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	// upper bound for any single cache call
	OpTimeout      time.Duration `yaml:"op_timeout" validate:"gt=0"`
	BloomKey       string        `yaml:"bloom_key"`
	BloomCapacity  uint64        `yaml:"bloom_capacity"`
	BloomErrorRate float64       `yaml:"bloom_error_rate" validate:"min=0,max=1"`
}

type DedupConfig struct {
	LocalFallback bool          `yaml:"local_fallback"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"min=0"`
}

type IndexerConfig struct {
	Dir               string `yaml:"dir" validate:"required"`
	MaxDocsPerSegment int    `yaml:"max_docs_per_segment" validate:"min=1"`
	// merge runs after a flush once more segment files than this exist, 0 disables
	MaxSegments     int    `yaml:"max_segments" validate:"min=0"`
	AvgLengthPolicy string `yaml:"avg_length_policy" validate:"oneof=resident corpus"`
	Stem            bool   `yaml:"stem"`
	StopWords       bool   `yaml:"stop_words"`
	// flushed segments are mirrored into Postgres when set
	PostgresDSN string `yaml:"postgres_dsn"`
	PoolSize    int    `yaml:"pool_size" validate:"min=1"`
}

type MongoConfig struct {
	URI       string `yaml:"uri"`
	DBName    string `yaml:"db_name"`
	PagesColl string `yaml:"pages_coll"`
}

type QueryConfig struct {
	DefaultTopK int           `yaml:"default_top_k" validate:"min=1"`
	MaxTopK     int           `yaml:"max_top_k" validate:"min=1"`
	CacheSize   int           `yaml:"cache_size" validate:"min=0"`
	CacheTTL    time.Duration `yaml:"cache_ttl" validate:"min=0"`
}

type SearchAPIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	HTTPAddr     string        `yaml:"http_addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}
