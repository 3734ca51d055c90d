package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Redis     Redis     `envPrefix:"REDIS_"`
		Maps      Maps      `envPrefix:"MAPS_"`

		// VikingMaps overrides the tile cache root, same as the desktop program.
		VikingMaps string `env:"VIKING_MAPS"`
	}

	HTTP struct {
		Server  Server        `envPrefix:"SERVER_"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8080" validate:"required,numeric"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level    string `env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error dpanic panic fatal"`
		Encoding string `env:"ENCODING" envDefault:"console" validate:"oneof=console json"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"guide-helper-maps"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	Redis struct {
		Enabled  bool          `env:"ENABLED" envDefault:"false"`
		Addr     string        `env:"ADDR" envDefault:"localhost:6379" validate:"required_if=Enabled true"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0" validate:"gte=0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Maps struct {
		// CacheDir forces the tile cache root. Empty means DefaultRoot resolution.
		CacheDir string `env:"CACHE_DIR"`
		// VikingDir holds viking.ini and the task log database.
		VikingDir   string `env:"VIKING_DIR"`
		SourcesFile string `env:"SOURCES_FILE"`
		TaskLogPath string `env:"TASK_LOG_PATH"`
		UserAgent   string `env:"USER_AGENT" envDefault:"guide-helper-maps/1.0"`
		// DefaultSource is the map id used by the render endpoint when none is given.
		DefaultSource int `env:"DEFAULT_SOURCE" envDefault:"13" validate:"gte=0,lte=65535"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
