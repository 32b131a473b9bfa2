// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	// Zone data for minimal images without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/JakeFAU/release-watcher/internal/logging"
	"github.com/JakeFAU/release-watcher/internal/release"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	State     StateConfig     `mapstructure:"state"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Rating    RatingConfig    `mapstructure:"rating"`
	// Timezone is the zone the sites date their postings in.
	Timezone  string          `mapstructure:"timezone"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// State backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// StateConfig selects where known items and subscribers are kept.
type StateConfig struct {
	Backend  string         `mapstructure:"backend"`
	Dir      string         `mapstructure:"dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ItemsTable      string        `mapstructure:"items_table"`
	SubscriberTable string        `mapstructure:"subscriber_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Proxy       string        `mapstructure:"proxy"`
	RatePerHost float64       `mapstructure:"rate_per_host"`
	Burst       int           `mapstructure:"burst"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig names the families whose transient failures are retried.
type RetryConfig struct {
	Families   []string      `mapstructure:"families"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// BatchConfig staggers concurrent item fetches.
type BatchConfig struct {
	LaunchDelay time.Duration `mapstructure:"launch_delay"`
	PauseEvery  int           `mapstructure:"pause_every"`
	Pause       time.Duration `mapstructure:"pause"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
}

// SchedulerConfig holds poll loop timing.
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	WarmupCooldown   time.Duration `mapstructure:"warmup_cooldown"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	SkipFirstAlert   bool          `mapstructure:"skip_first_alert"`
}

// FiltersConfig tunes which items are announced.
type FiltersConfig struct {
	ExcludeGenres       []string `mapstructure:"exclude_genres"`
	AllowCountries      []string `mapstructure:"allow_countries"`
	ExcludeTitleMarkers []string `mapstructure:"exclude_title_markers"`
}

// LookupConfig tunes on-demand lookups.
type LookupConfig struct {
	RecentLimit int    `mapstructure:"recent_limit"`
	DefaultCode string `mapstructure:"default_code"`
}

// RatingConfig points at the rating service.
type RatingConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// TelegramConfig configures the bot sink. Without a token messages are
// only logged.
type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	APIBase string `mapstructure:"api_base"`
	OwnerID string `mapstructure:"owner_id"`
}

// SourceConfig is one configured origin. Exactly one of URL and Groups is set.
type SourceConfig struct {
	Key      string        `mapstructure:"key"`
	Code     string        `mapstructure:"code"`
	Title    string        `mapstructure:"title"`
	Family   string        `mapstructure:"family"`
	Kind     string        `mapstructure:"kind"`
	URL      string        `mapstructure:"url"`
	Groups   []GroupConfig `mapstructure:"groups"`
	Limit    int           `mapstructure:"limit"`
	Announce bool          `mapstructure:"announce"`
}

// GroupConfig is one sub-address of a grouped source.
type GroupConfig struct {
	Key string `mapstructure:"key"`
	URL string `mapstructure:"url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELEASEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "2m")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("state.postgres.items_table", "known_items")
	v.SetDefault("state.postgres.subscriber_table", "subscribers")
	v.SetDefault("state.postgres.max_conns", 4)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; releasewatch/1.0)")
	v.SetDefault("fetch.timeout", "5m")
	v.SetDefault("fetch.proxy", "")
	v.SetDefault("fetch.rate_per_host", 2)
	v.SetDefault("fetch.burst", 4)
	v.SetDefault("fetch.retry.families", []string{string(release.FamilyNewstudio)})
	v.SetDefault("fetch.retry.max_retries", 5)
	v.SetDefault("fetch.retry.backoff", "1m")
	v.SetDefault("batch.launch_delay", "200ms")
	v.SetDefault("batch.pause_every", 5)
	v.SetDefault("batch.pause", "1s")
	v.SetDefault("batch.max_in_flight", 8)
	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.warmup_cooldown", "3m")
	v.SetDefault("scheduler.recovery_interval", "5m")
	v.SetDefault("scheduler.skip_first_alert", true)
	v.SetDefault("filters.exclude_genres", []string{"ТВ-Шоу", "Мультфильм", "Документальный", "Anime", "Спорт", "КВН"})
	v.SetDefault("filters.allow_countries", []string{"США", "Россия", "Германия", "Великобритания", "Испания", "Франция"})
	v.SetDefault("filters.exclude_title_markers", []string{"WEBDLRip"})
	v.SetDefault("lookup.recent_limit", 5)
	v.SetDefault("lookup.default_code", "lf")
	v.SetDefault("timezone", "Europe/Moscow")
	v.SetDefault("rating.base_url", "https://rating.kinopoisk.ru")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.owner_id", "")
	v.SetDefault("sources", []map[string]any{
		{"key": "mega_f", "code": "mf", "title": "Megashara", "family": "megashara", "kind": "film", "url": "http://megashara.com/movies", "limit": 10, "announce": true},
		{"key": "mega_s", "code": "ms", "title": "Megashara", "family": "megashara", "kind": "series", "url": "http://megashara.com/tv", "limit": 10},
		{"key": "lf", "code": "lf", "title": "Lordsfilms", "family": "lordsfilm", "kind": "film", "url": "http://lordsfilms.tv/filmy/", "limit": 9, "announce": true},
		{
			"key": "ns", "code": "ns", "title": "Newstudio", "family": "newstudio", "kind": "series", "limit": 5, "announce": true,
			"groups": []map[string]any{
				{"key": "444", "url": "http://newstudio.tv/viewforum.php?f=444&sort=2"},
				{"key": "206", "url": "http://newstudio.tv/viewforum.php?f=206&sort=2"},
			},
		},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.State.Backend {
	case BackendFile:
		if strings.TrimSpace(c.State.Dir) == "" {
			return fmt.Errorf("state.dir must be set for the file backend")
		}
	case BackendPostgres:
		if c.State.Postgres.DSN == "" {
			return fmt.Errorf("state.postgres.dsn must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("state.backend must be one of %q, %q or %q, got %q",
			BackendFile, BackendPostgres, BackendMemory, c.State.Backend)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.Retry.MaxRetries < 0 {
		return fmt.Errorf("fetch.retry.max_retries must be >= 0")
	}
	for _, f := range c.Fetch.Retry.Families {
		if !knownFamily(release.Family(f)) {
			return fmt.Errorf("fetch.retry.families: unknown family %q", f)
		}
	}
	if c.Scheduler.Interval <= 0 || c.Scheduler.RecoveryInterval <= 0 {
		return fmt.Errorf("scheduler.interval and scheduler.recovery_interval must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.Lookup.RecentLimit <= 0 {
		return fmt.Errorf("lookup.recent_limit must be > 0")
	}
	if _, err := c.ReleaseSources(); err != nil {
		return err
	}
	return nil
}

// ReleaseSources converts the configured sources, fixing each one's shape.
func (c Config) ReleaseSources() ([]release.Source, error) {
	if len(c.Sources) == 0 {
		return nil, errors.New("sources: at least one source is required")
	}
	keys := make(map[string]bool, len(c.Sources))
	codes := make(map[string]bool, len(c.Sources))
	out := make([]release.Source, 0, len(c.Sources))
	for i, sc := range c.Sources {
		src, err := sc.toSource()
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if keys[src.Key] {
			return nil, fmt.Errorf("sources[%d]: duplicate key %q", i, src.Key)
		}
		if codes[src.Code] {
			return nil, fmt.Errorf("sources[%d]: duplicate code %q", i, src.Code)
		}
		keys[src.Key], codes[src.Code] = true, true
		out = append(out, src)
	}
	if c.Lookup.DefaultCode != "" && !codes[c.Lookup.DefaultCode] {
		return nil, fmt.Errorf("lookup.default_code %q does not name a source", c.Lookup.DefaultCode)
	}
	return out, nil
}

func (sc SourceConfig) toSource() (release.Source, error) {
	if sc.Key == "" {
		return release.Source{}, errors.New("key is required")
	}
	code := sc.Code
	if code == "" {
		code = sc.Key
	}
	if code == "all" {
		return release.Source{}, errors.New(`code "all" is reserved`)
	}
	family := release.Family(sc.Family)
	if !knownFamily(family) {
		return release.Source{}, fmt.Errorf("unknown family %q", sc.Family)
	}
	kind := release.Kind(sc.Kind)
	switch kind {
	case "":
		kind = release.KindFilm
	case release.KindFilm, release.KindSeries:
	default:
		return release.Source{}, fmt.Errorf("unknown kind %q", sc.Kind)
	}
	if sc.Limit <= 0 {
		return release.Source{}, errors.New("limit must be > 0")
	}

	src := release.Source{
		Key:      sc.Key,
		Code:     code,
		Title:    sc.Title,
		Family:   family,
		Kind:     kind,
		Limit:    sc.Limit,
		Announce: sc.Announce,
	}
	if src.Title == "" {
		src.Title = sc.Key
	}
	switch {
	case sc.URL != "" && len(sc.Groups) > 0:
		return release.Source{}, errors.New("url and groups are mutually exclusive")
	case sc.URL != "":
		src.Shape = release.ShapeFlat
		src.URL = sc.URL
	case len(sc.Groups) > 0:
		src.Shape = release.ShapeGrouped
		seen := map[string]bool{}
		for _, g := range sc.Groups {
			if g.Key == "" || g.URL == "" {
				return release.Source{}, errors.New("group key and url are required")
			}
			if seen[g.Key] {
				return release.Source{}, fmt.Errorf("duplicate group %q", g.Key)
			}
			seen[g.Key] = true
			src.Groups = append(src.Groups, release.Group{Key: g.Key, URL: g.URL})
		}
	default:
		return release.Source{}, errors.New("url or groups is required")
	}
	return src, nil
}

func knownFamily(f release.Family) bool {
	switch f {
	case release.FamilyMegashara, release.FamilyLordsfilm, release.FamilyNewstudio:
		return true
	}
	return false
}
