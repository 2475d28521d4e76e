package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "your-secret-key"

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Worker    WorkerConfig    `json:"worker"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Mail      MailConfig      `json:"mail"`
	Realtime  RealtimeConfig  `json:"realtime"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
	ClientURL    string        `json:"client_url"`
}

type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path"`
	MongoURI        string        `json:"mongo_uri"`
	MongoDatabase   string        `json:"mongo_database"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WorkerConfig struct {
	Concurrency       int           `json:"concurrency"`
	PollInterval      time.Duration `json:"poll_interval"`
	MaxTries          int           `json:"max_tries"`
	JobTimeout        time.Duration `json:"job_timeout"`
	OutboxConcurrency int           `json:"outbox_concurrency"`
	OutboxBuffer      int           `json:"outbox_buffer"`
	SummaryTime       string        `json:"summary_time"`
}

type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	JWTIssuer      string        `json:"jwt_issuer"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	BCryptCost     int           `json:"bcrypt_cost"`
	AdminEmail     string        `json:"admin_email"`
	AdminPassword  string        `json:"-"`
	UserCacheTTL   time.Duration `json:"user_cache_ttl"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled"`
	RequestsPerMin  int           `json:"requests_per_minute"`
	BurstSize       int           `json:"burst_size"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type MailConfig struct {
	BrevoAPIKey  string        `json:"-"`
	BrevoBaseURL string        `json:"brevo_base_url"`
	SenderName   string        `json:"sender_name"`
	SenderEmail  string        `json:"sender_email"`
	AppURL       string        `json:"app_url"`
	Timeout      time.Duration `json:"timeout"`
}

type RealtimeConfig struct {
	RedisBridge  bool          `json:"redis_bridge"`
	PingInterval time.Duration `json:"ping_interval"`
	RoomBuffer   int           `json:"room_buffer"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("HOST", "localhost"),
			Port:         getEnv("PORT", "5000"),
			ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ClientURL:    getEnv("CLIENT_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "flowdesk"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "flowdesk.db"),
			MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:   getEnv("MONGO_DATABASE", "flowdesk"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:       getEnvAsInt("WORKER_CONCURRENCY", 4),
			PollInterval:      getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			MaxTries:          getEnvAsInt("WORKER_MAX_TRIES", 3),
			JobTimeout:        getEnvAsDuration("WORKER_JOB_TIMEOUT", 30*time.Second),
			OutboxConcurrency: getEnvAsInt("OUTBOX_CONCURRENCY", 2),
			OutboxBuffer:      getEnvAsInt("OUTBOX_BUFFER", 256),
			SummaryTime:       getEnv("SUMMARY_TIME", "09:00"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
			JWTIssuer:      getEnv("JWT_ISSUER", "flowdesk"),
			AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", 30*24*time.Hour),
			BCryptCost:     getEnvAsInt("BCRYPT_COST", 10),
			AdminEmail:     strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
			AdminPassword:  getEnv("ADMIN_PASSWORD", ""),
			UserCacheTTL:   getEnvAsDuration("USER_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin:  getEnvAsInt("RATE_LIMIT_RPM", 100),
			BurstSize:       getEnvAsInt("RATE_LIMIT_BURST", 10),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP", 10*time.Minute),
		},
		Mail: MailConfig{
			BrevoAPIKey:  getEnv("BREVO_API_KEY", ""),
			BrevoBaseURL: getEnv("BREVO_BASE_URL", "https://api.brevo.com/v3"),
			SenderName:   getEnv("MAIL_SENDER_NAME", "FlowDesk App"),
			SenderEmail:  getEnv("MAIL_SENDER_EMAIL", "no-reply@flowdesk.local"),
			AppURL:       getEnv("APP_URL", "http://localhost:3000"),
			Timeout:      getEnvAsDuration("MAIL_TIMEOUT", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			RedisBridge:  getEnvAsBool("REALTIME_REDIS_BRIDGE", false),
			PingInterval: getEnvAsDuration("REALTIME_PING_INTERVAL", 30*time.Second),
			RoomBuffer:   getEnvAsInt("REALTIME_ROOM_BUFFER", 16),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate reports every problem at once so a misconfigured deploy fails
// with the full list.
func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite", "mongo":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}

	if _, _, err := c.SummaryClock(); err != nil {
		errs = append(errs, err)
	}

	for _, d := range c.positiveDurations() {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.env, d.value))
		}
	}
	if c.Database.ConnMaxLifetime < 0 || c.Database.ConnMaxIdleTime < 0 {
		errs = append(errs, errors.New("DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME must not be negative"))
	}

	if c.IsProduction() {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			errs = append(errs, errors.New("database password is required in production"))
		}
		if c.Auth.JWTSecret == defaultJWTSecret {
			errs = append(errs, errors.New("JWT secret must be set in production"))
		}
	}

	return errors.Join(errs...)
}

type namedDuration struct {
	env   string
	value time.Duration
}

// positiveDurations lists settings that feed tickers, timeouts and TTLs,
// where zero or a negative value is never meaningful.
func (c *Config) positiveDurations() []namedDuration {
	return []namedDuration{
		{"READ_TIMEOUT", c.Server.ReadTimeout},
		{"WRITE_TIMEOUT", c.Server.WriteTimeout},
		{"IDLE_TIMEOUT", c.Server.IdleTimeout},
		{"REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout},
		{"REDIS_READ_TIMEOUT", c.Redis.ReadTimeout},
		{"REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout},
		{"WORKER_POLL_INTERVAL", c.Worker.PollInterval},
		{"WORKER_JOB_TIMEOUT", c.Worker.JobTimeout},
		{"ACCESS_TOKEN_TTL", c.Auth.AccessTokenTTL},
		{"USER_CACHE_TTL", c.Auth.UserCacheTTL},
		{"RATE_LIMIT_CLEANUP", c.RateLimit.CleanupInterval},
		{"MAIL_TIMEOUT", c.Mail.Timeout},
		{"REALTIME_PING_INTERVAL", c.Realtime.PingInterval},
	}
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// SummaryClock parses Worker.SummaryTime ("HH:MM") into hour and minute.
func (c *Config) SummaryClock() (int, int, error) {
	parsed, err := time.Parse("15:04", c.Worker.SummaryTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid SUMMARY_TIME %q: %w", c.Worker.SummaryTime, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseEnv falls back when the variable is unset or does not parse.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := parse(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

func getEnvAsBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}
