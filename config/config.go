package config

import (
	"flag"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ilyakaznacheev/cleanenv"
)

type GRPC struct {
	Address string `yaml:"address" env:"GRPC_ADDRESS" env-default:":50051"`
}

type Metrics struct {
	Address string `yaml:"address" env:"METRICS_ADDRESS" env-default:":9090"`
}

type Ledger struct {
	Driver string `yaml:"driver" env:"LEDGER_DRIVER" env-default:"pebble"`
	Dir    string `yaml:"dir" env:"LEDGER_DIR" env-default:"./data/ledger"`
}

type Kafka struct {
	Enabled    bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	TradeTopic string   `yaml:"trade_topic" env:"KAFKA_TRADE_TOPIC" env-default:"crossbook.trades"`
	PriceTopic string   `yaml:"price_topic" env:"KAFKA_PRICE_TOPIC" env-default:"crossbook.prices"`
}

type Notifier struct {
	Buffer int `yaml:"buffer" env:"NOTIFIER_BUFFER" env-default:"4096"`
}

type Engine struct {
	PriceAlertThreshold int64 `yaml:"price_alert_threshold" env:"PRICE_ALERT_THRESHOLD" env-default:"10"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"production"`
	GRPC     GRPC     `yaml:"grpc"`
	Metrics  Metrics  `yaml:"metrics"`
	Ledger   Ledger   `yaml:"ledger"`
	Kafka    Kafka    `yaml:"kafka"`
	Notifier Notifier `yaml:"notifier"`
	Engine   Engine   `yaml:"engine"`
	Log      Log      `yaml:"log"`
}

func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "pebble", "memory":
	default:
		return errors.Newf("config: unknown ledger driver %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "pebble" && c.Ledger.Dir == "" {
		return errors.New("config: ledger.dir is required for the pebble driver")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka.brokers is required when kafka is enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Newf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Load reads path when it is set, otherwise the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "read config from environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path resolves the config file from CONFIG_PATH or the -config flag.
// Empty means environment only.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	p := flag.String("config", "", "path to config file")
	flag.Parse()
	return *p
}

// MustLoad is Load(Path()) that panics on error.
func MustLoad() *Config {
	cfg, err := Load(Path())
	if err != nil {
		panic(err)
	}
	return cfg
}
