package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Redis struct {
		URL           string `yaml:"url"`
		ConsumerGroup string `yaml:"consumer_group"`
	} `yaml:"redis"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Wallet struct {
		XPub string `yaml:"xpub"`
	} `yaml:"wallet"`
	Chain struct {
		ChainID              string   `yaml:"chain_id"`
		RPCEndpoints         []string `yaml:"rpc_endpoints"`
		WSEndpoints          []string `yaml:"ws_endpoints"`
		Bech32Prefix         string   `yaml:"bech32_prefix"`
		Denom                string   `yaml:"denom"`
		RPCFailoverThreshold int      `yaml:"rpc_failover_threshold"`
		RequestTimeoutSecs   int      `yaml:"request_timeout_seconds"`
	} `yaml:"chain"`
	Orders struct {
		MaxQuantity int `yaml:"max_quantity"`
		TTLMinutes  int `yaml:"ttl_minutes"`
	} `yaml:"orders"`
	Settlement struct {
		CurrencyPlaces     int32  `yaml:"currency_places"`
		UnorganizedRevenue string `yaml:"unorganized_revenue"`
	} `yaml:"settlement"`
	Worker struct {
		IntervalSeconds    int64  `yaml:"interval_seconds"`
		BatchSize          int    `yaml:"batch_size"`
		MaxAttempts        int    `yaml:"max_attempts"`
		BaseBackoffSeconds int64  `yaml:"base_backoff_seconds"`
		MaxBackoffSeconds  int64  `yaml:"max_backoff_seconds"`
		LeaseSeconds       int64  `yaml:"lease_seconds"`
		MetricsAddr        string `yaml:"metrics_addr"`
	} `yaml:"worker"`
	PubNub struct {
		PublishKey   string `yaml:"publish_key"`
		SubscribeKey string `yaml:"subscribe_key"`
		SecretKey    string `yaml:"secret_key"`
		UserID       string `yaml:"user_id"`
	} `yaml:"pubnub"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Chain.ChainID == "" || len(cfg.Chain.RPCEndpoints) == 0 {
		return nil, errors.New("chain config is incomplete")
	}
	switch cfg.Settlement.UnorganizedRevenue {
	case "platform", "unallocated":
	default:
		return nil, errors.New("settlement.unorganized_revenue must be platform or unallocated")
	}
	if cfg.Settlement.CurrencyPlaces < 0 || cfg.Settlement.CurrencyPlaces > 9 {
		return nil, errors.New("settlement.currency_places must be within 0..9")
	}
	return &cfg, nil
}

func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMinutes) * time.Minute
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.Worker.BaseBackoffSeconds) * time.Second
}

func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Worker.MaxBackoffSeconds) * time.Second
}

func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Worker.LeaseSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Chain.RequestTimeoutSecs) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.Redis.ConsumerGroup == "" {
		cfg.Redis.ConsumerGroup = "ticketmint-workers"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.RPCFailoverThreshold <= 0 {
		cfg.Chain.RPCFailoverThreshold = 3
	}
	if cfg.Chain.RequestTimeoutSecs <= 0 {
		cfg.Chain.RequestTimeoutSecs = 10
	}
	if cfg.Orders.MaxQuantity <= 0 {
		cfg.Orders.MaxQuantity = 10
	}
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 15
	}
	if cfg.Settlement.CurrencyPlaces == 0 {
		cfg.Settlement.CurrencyPlaces = 2
	}
	if cfg.Settlement.UnorganizedRevenue == "" {
		cfg.Settlement.UnorganizedRevenue = "platform"
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 20
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 50
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 8
	}
	if cfg.Worker.BaseBackoffSeconds <= 0 {
		cfg.Worker.BaseBackoffSeconds = 5
	}
	if cfg.Worker.MaxBackoffSeconds <= 0 {
		cfg.Worker.MaxBackoffSeconds = 600
	}
	if cfg.Worker.LeaseSeconds <= 0 {
		cfg.Worker.LeaseSeconds = 120
	}
	if cfg.PubNub.UserID == "" {
		cfg.PubNub.UserID = "ticketmint"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WALLET_XPUB"); v != "" {
		cfg.Wallet.XPub = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.Chain.ChainID = v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_ENDPOINTS"); v != "" {
		cfg.Chain.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("BECH32_PREFIX"); v != "" {
		cfg.Chain.Bech32Prefix = v
	}
	if v := os.Getenv("CHAIN_DENOM"); v != "" {
		cfg.Chain.Denom = v
	}
	if v := os.Getenv("ORDER_MAX_QUANTITY"); v != "" {
		cfg.Orders.MaxQuantity = atoiOr(cfg.Orders.MaxQuantity, v)
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("SETTLEMENT_UNORGANIZED_REVENUE"); v != "" {
		cfg.Settlement.UnorganizedRevenue = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("WORKER_MAX_ATTEMPTS"); v != "" {
		cfg.Worker.MaxAttempts = atoiOr(cfg.Worker.MaxAttempts, v)
	}
	if v := os.Getenv("WORKER_METRICS_ADDR"); v != "" {
		cfg.Worker.MetricsAddr = v
	}
	if v := os.Getenv("PUBNUB_PUBLISH_KEY"); v != "" {
		cfg.PubNub.PublishKey = v
	}
	if v := os.Getenv("PUBNUB_SUBSCRIBE_KEY"); v != "" {
		cfg.PubNub.SubscribeKey = v
	}
	if v := os.Getenv("PUBNUB_SECRET_KEY"); v != "" {
		cfg.PubNub.SecretKey = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
