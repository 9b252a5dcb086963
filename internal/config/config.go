package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Invites    `yaml:"invites"`
	Storage    `yaml:"storage"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	SMTP       `yaml:"smtp"`
	Telemetry  `yaml:"telemetry"`
	HTTPServer `yaml:"http_server"`
}

type HTTPServer struct {
	Address        string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout        time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	APIPrefix      string        `yaml:"api_prefix" env-default:"/api"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-default:"http://localhost:3000,http://localhost:8081,http://localhost:19000,http://localhost:19001"`
}

type Tokens struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	TTL    time.Duration `yaml:"ttl" env:"JWT_TTL" env-default:"168h"`
}

type Invites struct {
	TTL         time.Duration `yaml:"ttl" env:"INVITE_TTL" env-default:"24h"`
	NeverExpire bool          `yaml:"never_expire" env:"INVITE_NEVER_EXPIRE"`
	LinkBaseURL string        `yaml:"link_base_url" env:"INVITE_LINK_BASE_URL" env-default:"http://localhost:8080"`
}

// * InviteTTL returns the effective invite lifetime, zero when invites never expire.
func (i Invites) InviteTTL() time.Duration {
	if i.NeverExpire {
		return 0
	}

	return i.TTL
}

type Storage struct {
	Driver   string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	Postgres `yaml:"postgres"`
	Mongo    `yaml:"mongo"`
}

type Postgres struct {
	Host           string `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port           int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User           string `yaml:"user" env:"POSTGRES_USER"`
	Password       string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName         string `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode        string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	SkipMigrations bool   `yaml:"skip_migrations" env:"POSTGRES_SKIP_MIGRATIONS"`
}

type Mongo struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"chat"`
}

// Redis is optional; an empty address keeps invite code reservation in the store.
type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RabbitMQ is optional; an empty URL disables events and invite e-mails.
type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env:"RABBITMQ_QUEUE" env-default:"mail"`
	Exchange  string `yaml:"exchange" env:"RABBITMQ_EXCHANGE" env-default:"chat.events"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

type Telemetry struct {
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"chat_service"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// NotifierConfig is the subset the mail notifier needs.
type NotifierConfig struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	RabbitMQ `yaml:"rabbitmq"`
	SMTP     `yaml:"smtp"`
}

// MustLoadNotifier reads the same file as MustLoad without requiring the
// HTTP side settings.
func MustLoadNotifier() *NotifierConfig {
	path := fetchConfigPath()
	if path == "" {
		path = "./config/local.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	var cfg NotifierConfig

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic(err.Error())
	}

	return &cfg
}

// MustLoad reads the config file named by the -config flag or CONFIG_PATH.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		path = "./config/local.yaml"
	}

	return MustLoadPath(path)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err.Error())
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &os.PathError{Op: "config", Path: configPath, Err: os.ErrNotExist}
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// fetchConfigPath gives the flag priority over the environment.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
