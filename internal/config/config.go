package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Redis    Redis
	Broker   Broker
	Worker   Worker
	Store    Store
	API      API
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type Redis struct {
	Addr         string `env:"Redis_Address" envDefault:"localhost:6379"`
	Password     string `env:"Redis_Password"`
	DB           int    `env:"Redis_DB"`
	StreamKey    string `env:"Redis_StreamKey" envDefault:"tasks"`
	Group        string `env:"Redis_Group" envDefault:"workers"`
	DLQStreamKey string `env:"Redis_DLQStreamKey" envDefault:"tasks:dead"`
	KeyPrefix    string `env:"Redis_KeyPrefix" envDefault:"task:"`
}

// Broker holds the retry budgets for connecting, publishing and consuming.
type Broker struct {
	ConnectRetries        int           `env:"BROKER_CONNECT_RETRIES" envDefault:"30"`
	ConnectBaseDelay      time.Duration `env:"BROKER_CONNECT_BASE_DELAY" envDefault:"2s"`
	PublishRetries        int           `env:"BROKER_PUBLISH_RETRIES" envDefault:"5"`
	PublishRetryDelay     time.Duration `env:"BROKER_PUBLISH_RETRY_DELAY" envDefault:"1s"`
	PublishConnectRetries int           `env:"BROKER_PUBLISH_CONNECT_RETRIES" envDefault:"3"`
	PublishConnectDelay   time.Duration `env:"BROKER_PUBLISH_CONNECT_DELAY" envDefault:"1s"`
	ClaimMinIdle          time.Duration `env:"BROKER_CLAIM_MIN_IDLE" envDefault:"5m"`
	BlockTimeout          time.Duration `env:"BROKER_BLOCK_TIMEOUT" envDefault:"5s"`
}

type Worker struct {
	ConsumerName       string        `env:"WORKER_CONSUMER" envDefault:"worker-1"`
	Executor           string        `env:"EXECUTOR" envDefault:"simulated"`
	ExecTimeout        time.Duration `env:"WORKER_EXEC_TIMEOUT"`
	RestartBaseBackoff time.Duration `env:"WORKER_RESTART_BASE_BACKOFF" envDefault:"500ms"`
	RestartMaxBackoff  time.Duration `env:"WORKER_RESTART_MAX_BACKOFF" envDefault:"30s"`
	StaleAfter         time.Duration `env:"WORKER_STALE_AFTER" envDefault:"30m"`
	SweepInterval      time.Duration `env:"WORKER_SWEEP_INTERVAL" envDefault:"1m"`
	MetricsAddr        string        `env:"METRICS_ADDR"`
}

type Store struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"redis"`
	DatabaseURL string `env:"DATABASE_URL"`
}

type API struct {
	Port int `env:"API_PORT" envDefault:"8080"`
}

// DefaultBroker returns the broker budgets from the envDefault tags, ignoring
// the process environment.
func DefaultBroker() Broker {
	var b Broker
	if err := env.ParseWithOptions(&b, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return b
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}

	return c
}

// Parse reads an optional .env file and then the process environment.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
