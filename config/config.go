package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// SourceKind live balance source implementation.
type SourceKind string

const (
	SourceREST        SourceKind = "rest"
	SourceBinance     SourceKind = "binance"
	SourceBybit       SourceKind = "bybit"
	SourceHyperliquid SourceKind = "hyperliquid"
)

// BackupKind backup store implementation.
type BackupKind string

const (
	BackupRedis   BackupKind = "redis"
	BackupLevelDB BackupKind = "leveldb"
	BackupFile    BackupKind = "file"
)

const (
	defaultWALDir             = "./wal/balance"
	defaultWebAddr            = ":8080"
	defaultSafetyTimeout      = 10 * time.Second
	defaultStoreTimeout       = 5 * time.Second
	defaultDegradedStaleAfter = 3
)

type Config struct {
	Account   domain.Account
	Source    SourceConfig
	WALDir    string
	Backups   []BackupConfig
	Assets    domain.Assets
	Policies  domain.PolicyTable
	Cache     CacheConfig
	WebAddr   string
	Log       LogConfig
	SetupOnly bool
}

type SourceConfig struct {
	Kind    SourceKind
	URL     string
	Timeout time.Duration
	// APIKey and APISecret are read from the environment.
	APIKey    string
	APISecret string
	// PrivateKey hex key of the Hyperliquid account, from HYPERLIQUID_PRIVATE_KEY.
	PrivateKey string
}

type BackupConfig struct {
	Name     string
	Kind     BackupKind
	Tier     domain.SourceTier
	Addr     string
	Password string
	DB       int
	Dir      string
	TTL      time.Duration
}

type CacheConfig struct {
	SafetyTimeout      time.Duration
	StoreTimeout       time.Duration
	DegradedStaleAfter int
}

// LogConfig logger settings.
type LogConfig struct {
	Format   string `yaml:"format"`
	LogDir   string `yaml:"log_dir"`
	Level    string `yaml:"level"`
	Compress bool   `yaml:"compress"`
}

type ConfigTmp struct {
	Account struct {
		ID       string `yaml:"id"`
		Network  string `yaml:"network"`
		PlanTier string `yaml:"plan_tier"`
	} `yaml:"account"`
	Source struct {
		Kind    string `yaml:"kind"`
		URL     string `yaml:"url,omitempty"`
		Timeout string `yaml:"timeout,omitempty"`
	} `yaml:"source"`
	Persisted struct {
		Dir string `yaml:"dir,omitempty"`
	} `yaml:"persisted"`
	Backups []BackupTmp `yaml:"backups,omitempty"`
	Assets  struct {
		Stable         string `yaml:"stable,omitempty"`
		NativeFallback string `yaml:"native_fallback,omitempty"`
	} `yaml:"assets"`
	Policies map[string]PolicyTmp `yaml:"policies,omitempty"`
	Cache    struct {
		SafetyTimeout         string `yaml:"safety_timeout,omitempty"`
		StoreTimeout          string `yaml:"store_timeout,omitempty"`
		DegradedStaleAfterStr string `yaml:"degraded_stale_after,omitempty"`
	} `yaml:"cache"`
	WebAddr string    `yaml:"web_addr,omitempty"`
	Logger  LogConfig `yaml:"logger"`
}

type BackupTmp struct {
	Name  string `yaml:"name,omitempty"`
	Kind  string `yaml:"kind"`
	Addr  string `yaml:"addr,omitempty"`
	DBStr string `yaml:"db,omitempty"`
	Dir   string `yaml:"dir,omitempty"`
	TTL   string `yaml:"ttl,omitempty"`
}

type PolicyTmp struct {
	CacheTTL        string `yaml:"cache_ttl"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// Get reads the config from the yaml file given by -config, or from CLI flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive setup wizard and exit")
	accountID := flag.String("account", "", "active account id")
	network := flag.String("network", "azore", "network of the account")
	plan := flag.String("plan", "basic", "plan tier: basic, pro or premium")
	source := flag.String("source", "rest", "live source: rest, binance, bybit or hyperliquid")
	sourceURL := flag.String("source-url", "", "wallet API base url or exchange endpoint")
	walDir := flag.String("wal-dir", defaultWALDir, "persisted store directory")
	webAddr := flag.String("web-addr", defaultWebAddr, "http listen address")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *setup {
		return Config{SetupOnly: true}, nil
	}
	if *configPath != "" {
		return Load(*configPath)
	}

	var tmp ConfigTmp
	tmp.Account.ID = *accountID
	tmp.Account.Network = *network
	tmp.Account.PlanTier = *plan
	tmp.Source.Kind = *source
	tmp.Source.URL = *sourceURL
	tmp.Persisted.Dir = *walDir
	tmp.WebAddr = *webAddr
	tmp.Logger.Level = *logLevel

	return tmp.Parse(os.Getenv)
}

// Load reads and validates a yaml config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml config")
	}

	return tmp.Parse(os.Getenv)
}

// Parse validates the raw config and applies defaults. Secrets are looked up with env.
func (c ConfigTmp) Parse(env func(string) string) (Config, error) {
	conf := Config{
		Account: domain.Account{
			ID:       strings.TrimSpace(c.Account.ID),
			Network:  strings.ToLower(strings.TrimSpace(c.Account.Network)),
			PlanTier: domain.ParsePlanTier(c.Account.PlanTier),
		},
		WALDir:  c.Persisted.Dir,
		Assets:  domain.DefaultAssets(),
		WebAddr: c.WebAddr,
		Log:     c.Logger,
	}

	if conf.Account.ID == "" {
		return Config{}, fmt.Errorf("'account.id' param is required")
	}
	if c.Account.PlanTier != "" && !domain.PlanTier(strings.ToLower(c.Account.PlanTier)).IsValid() {
		return Config{}, fmt.Errorf("incorrect 'account.plan_tier' param in yaml config: %s", c.Account.PlanTier)
	}
	if conf.WALDir == "" {
		conf.WALDir = defaultWALDir
	}
	if conf.WebAddr == "" {
		conf.WebAddr = defaultWebAddr
	}
	if c.Assets.Stable != "" {
		conf.Assets.Stable = c.Assets.Stable
	}
	if c.Assets.NativeFallback != "" {
		conf.Assets.NativeFallback = c.Assets.NativeFallback
	}

	source, err := parseSource(c, env)
	if err != nil {
		return Config{}, err
	}
	conf.Source = source

	for i, b := range c.Backups {
		backup, err := parseBackup(i, b, env)
		if err != nil {
			return Config{}, err
		}
		conf.Backups = append(conf.Backups, backup)
	}

	policies, err := parsePolicies(c.Policies)
	if err != nil {
		return Config{}, err
	}
	conf.Policies = policies

	cache, err := parseCache(c)
	if err != nil {
		return Config{}, err
	}
	conf.Cache = cache

	return conf, nil
}

func parseSource(c ConfigTmp, env func(string) string) (SourceConfig, error) {
	kind := SourceKind(strings.ToLower(strings.TrimSpace(c.Source.Kind)))
	if kind == "" {
		kind = SourceREST
	}

	timeout, err := parseDuration(c.Source.Timeout, 0)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("incorrect 'source.timeout' param in yaml config, error: %w", err)
	}

	s := SourceConfig{Kind: kind, URL: c.Source.URL, Timeout: timeout}
	switch kind {
	case SourceREST:
		if s.URL == "" {
			return SourceConfig{}, fmt.Errorf("'source.url' param is required for the rest source")
		}
		s.APIKey = env("WALLET_API_KEY")
	case SourceBinance:
		s.APIKey, s.APISecret = env("BINANCE_API_KEY"), env("BINANCE_API_SECRET")
		if s.APIKey == "" || s.APISecret == "" {
			return SourceConfig{}, fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
	case SourceBybit:
		s.APIKey, s.APISecret = env("BYBIT_API_KEY"), env("BYBIT_API_SECRET")
		if s.APIKey == "" || s.APISecret == "" {
			return SourceConfig{}, fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
	case SourceHyperliquid:
		s.PrivateKey = env("HYPERLIQUID_PRIVATE_KEY")
		if s.PrivateKey == "" {
			return SourceConfig{}, fmt.Errorf("HYPERLIQUID_PRIVATE_KEY environment variable must be set")
		}
	default:
		return SourceConfig{}, fmt.Errorf("unsupported source kind: %s", kind)
	}

	return s, nil
}

// parseBackup the first backup is the current generation, the rest are legacy.
func parseBackup(i int, b BackupTmp, env func(string) string) (BackupConfig, error) {
	kind := BackupKind(strings.ToLower(strings.TrimSpace(b.Kind)))
	tier := domain.TierBackupLegacy
	if i == 0 {
		tier = domain.TierBackupCurrent
	}

	name := b.Name
	if name == "" {
		name = string(kind)
	}

	ttl, err := parseDuration(b.TTL, 0)
	if err != nil {
		return BackupConfig{}, fmt.Errorf("incorrect 'backups[%d].ttl' param in yaml config, error: %w", i, err)
	}

	conf := BackupConfig{Name: name, Kind: kind, Tier: tier, Addr: b.Addr, Dir: b.Dir, TTL: ttl}
	switch kind {
	case BackupRedis:
		if conf.Addr == "" {
			return BackupConfig{}, fmt.Errorf("'backups[%d].addr' param is required for redis", i)
		}
		if b.DBStr != "" {
			db, err := strconv.Atoi(b.DBStr)
			if err != nil {
				return BackupConfig{}, fmt.Errorf("incorrect 'backups[%d].db' param in yaml config (must be an integer), error: %w", i, err)
			}
			conf.DB = db
		}
		conf.Password = env("REDIS_PASSWORD")
	case BackupLevelDB, BackupFile:
		if conf.Dir == "" {
			return BackupConfig{}, fmt.Errorf("'backups[%d].dir' param is required for %s", i, kind)
		}
	default:
		return BackupConfig{}, fmt.Errorf("unsupported backup kind: %s", b.Kind)
	}

	return conf, nil
}

func parsePolicies(raw map[string]PolicyTmp) (domain.PolicyTable, error) {
	policies := domain.DefaultPolicies()
	for name, p := range raw {
		tier := domain.PlanTier(strings.ToLower(name))
		if !tier.IsValid() {
			return nil, fmt.Errorf("unknown plan tier %q in 'policies'", name)
		}

		policy := policies[tier]
		ttl, err := parseDuration(p.CacheTTL, policy.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'policies.%s.cache_ttl' param in yaml config, error: %w", name, err)
		}
		refresh, err := parseDuration(p.RefreshInterval, policy.RefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'policies.%s.refresh_interval' param in yaml config, error: %w", name, err)
		}
		policies[tier] = domain.Policy{CacheTTL: ttl, RefreshInterval: refresh}
	}

	if err := policies.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid policies")
	}
	return policies, nil
}

func parseCache(c ConfigTmp) (CacheConfig, error) {
	safety, err := parseDuration(c.Cache.SafetyTimeout, defaultSafetyTimeout)
	if err != nil {
		return CacheConfig{}, fmt.Errorf("incorrect 'cache.safety_timeout' param in yaml config, error: %w", err)
	}
	store, err := parseDuration(c.Cache.StoreTimeout, defaultStoreTimeout)
	if err != nil {
		return CacheConfig{}, fmt.Errorf("incorrect 'cache.store_timeout' param in yaml config, error: %w", err)
	}

	staleAfter := defaultDegradedStaleAfter
	if c.Cache.DegradedStaleAfterStr != "" {
		staleAfter, err = strconv.Atoi(c.Cache.DegradedStaleAfterStr)
		if err != nil || staleAfter < 1 {
			return CacheConfig{}, fmt.Errorf("incorrect 'cache.degraded_stale_after' param in yaml config (must be a positive integer)")
		}
	}

	return CacheConfig{SafetyTimeout: safety, StoreTimeout: store, DegradedStaleAfter: staleAfter}, nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}
