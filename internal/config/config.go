package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongodb"

	TokenStoreRedis = "redis"
	TokenStoreMongo = "mongodb"
)

type Config struct {
	Env          string             `yaml:"env" env:"ENV" env-default:"local"`
	Storage      StorageConfig      `yaml:"storage"`
	TokenStore   string             `yaml:"token_store" env:"TOKEN_STORE" env-default:"redis"`
	Redis        RedisConfig        `yaml:"redis"`
	Token        TokenConfig        `yaml:"token"`
	StoreTimeout time.Duration      `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"3s"`
	HTTP         HTTPConfig         `yaml:"http"`
	Grpc         GRPCConfig         `yaml:"grpc"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Mail         MailConfig         `yaml:"mail"`
	Verification VerificationConfig `yaml:"verification"`
}

type StorageConfig struct {
	Driver      string      `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string      `yaml:"sqlite_path" env:"STORAGE_SQLITE_PATH" env-default:"./storage/memberauth.db"`
	PostgresDSN string      `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	Mongo       MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"memberauth"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"2s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"1s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"1s"`
}

type TokenConfig struct {
	Secret     string        `yaml:"secret" env:"TOKEN_SECRET" env-required:"true"`
	AccessTTL  time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env-default:"168h"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"HTTP_CORS_ORIGINS" env-separator:","`
	CookieSecure    bool          `yaml:"cookie_secure" env:"HTTP_COOKIE_SECURE" env-default:"true"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

// KafkaConfig with no brokers disables security event publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"memberauth.security"`
}

// MailConfig with an empty host logs codes instead of sending them.
type MailConfig struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string        `yaml:"username" env:"SMTP_USERNAME"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	From     string        `yaml:"from" env:"SMTP_FROM" env-default:"no-reply@memberauth.local"`
	Timeout  time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"10s"`
}

type VerificationConfig struct {
	CodeTTL     time.Duration `yaml:"code_ttl" env-default:"5m"`
	VerifiedTTL time.Duration `yaml:"verified_ttl" env-default:"30m"`
}

// MustLoad reads the config from the --config flag or CONFIG_PATH.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	if f := flag.Lookup("config"); f != nil {
		res = f.Value.String()
	} else {
		flag.StringVar(&res, "config", "", "path to config file")
		flag.Parse()
	}

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
