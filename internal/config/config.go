// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Fetcher  FetcherConfig
	Backends BackendConfig
	Cache    CacheConfig
	LogLevel string
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// FetcherConfig holds the parameters of a single fetch call: scopes, credential
// material, the retry schedule and spooling.
type FetcherConfig struct {
	Backend string
	Scopes  []string

	ClientID               string
	TenantID               string
	CertificateBytesBase64 string
	CertificatePassword    string
	ClientSecret           string
	ServiceAccountJSON     string
	AccessKeyID            string
	SecretAccessKey        string

	AuthorityHost string

	// ThrottleSeconds is nil when unset so callers can tell "not configured"
	// apart from an explicitly empty schedule.
	ThrottleSeconds []int64
	SpoolToTemp     bool
	SpoolDir        string
	TerminalCodes   []string
}

// DSN returns URL when set, else a key/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type BackendConfig struct {
	GraphBaseURL string
	// DriveEndpoint and GCSEndpoint override the Google API endpoints.
	DriveEndpoint string
	GCSEndpoint   string
	S3Endpoint    string
	S3Region      string
	S3UseSSL      bool
	LocalRoot     string
}

type CacheConfig struct {
	Enabled           bool
	RedisURL          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	OutcomeTTLSeconds int
}

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Load reads the configuration from the environment (and a .env file when
// present) once per process.
func Load() (*Config, error) {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		instance, loadErr = fromViper(newViper())
		if loadErr == nil && instance.Fetcher.SpoolDir != "" {
			ensureDir(instance.Fetcher.SpoolDir)
		}
	})

	return instance, loadErr
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set default values
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 0)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "*")
	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fetchers")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("FETCHER_BACKEND", "msgraph")
	v.SetDefault("FETCHER_AUTHORITY_HOST", "https://login.microsoftonline.com")
	v.SetDefault("FETCHER_SPOOL_TO_TEMP", false)
	v.SetDefault("FETCHER_SPOOL_DIR", "")
	v.SetDefault("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0")
	v.SetDefault("S3_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("LOCAL_ROOT", ".")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_OUTCOME_TTL_SECONDS", 3600)
	v.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	throttle, err := parseThrottle(v.GetString("FETCHER_THROTTLE_SECONDS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			URL:      v.GetString("DB_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Fetcher: FetcherConfig{
			Backend:                  strings.ToLower(strings.TrimSpace(v.GetString("FETCHER_BACKEND"))),
			Scopes:                   splitList(v.GetString("FETCHER_SCOPES")),
			ClientID:                 v.GetString("FETCHER_CLIENT_ID"),
			TenantID:                 v.GetString("FETCHER_TENANT_ID"),
			CertificateBytesBase64:   v.GetString("FETCHER_CERTIFICATE_BYTES_BASE64"),
			CertificatePassword:      v.GetString("FETCHER_CERTIFICATE_PASSWORD"),
			ClientSecret:             v.GetString("FETCHER_CLIENT_SECRET"),
			ServiceAccountJSON:       v.GetString("FETCHER_SERVICE_ACCOUNT_JSON"),
			AccessKeyID:              v.GetString("FETCHER_ACCESS_KEY_ID"),
			SecretAccessKey:          v.GetString("FETCHER_SECRET_ACCESS_KEY"),
			AuthorityHost:            strings.TrimSuffix(v.GetString("FETCHER_AUTHORITY_HOST"), "/"),
			ThrottleSeconds:          throttle,
			SpoolToTemp:              v.GetBool("FETCHER_SPOOL_TO_TEMP"),
			SpoolDir:                 v.GetString("FETCHER_SPOOL_DIR"),
			TerminalCodes:            splitList(v.GetString("FETCHER_TERMINAL_CODES")),
		},
		Backends: BackendConfig{
			GraphBaseURL:  strings.TrimSuffix(v.GetString("GRAPH_BASE_URL"), "/"),
			DriveEndpoint: v.GetString("DRIVE_ENDPOINT"),
			GCSEndpoint:   v.GetString("GCS_ENDPOINT"),
			S3Endpoint:    v.GetString("S3_ENDPOINT"),
			S3Region:      v.GetString("S3_REGION"),
			S3UseSSL:      v.GetBool("S3_USE_SSL"),
			LocalRoot:     v.GetString("LOCAL_ROOT"),
		},
		Cache: CacheConfig{
			Enabled:           v.GetBool("CACHE_ENABLED"),
			RedisURL:          v.GetString("REDIS_URL"),
			RedisHost:         v.GetString("REDIS_HOST"),
			RedisPort:         v.GetString("REDIS_PORT"),
			RedisPassword:     v.GetString("REDIS_PASSWORD"),
			RedisDB:           v.GetInt("REDIS_DB"),
			OutcomeTTLSeconds: v.GetInt("CACHE_OUTCOME_TTL_SECONDS"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	return cfg, nil
}

// ParseThrottle parses a comma separated list of non-negative second counts.
// An empty string yields a nil schedule.
func ParseThrottle(raw string) ([]int64, error) {
	return parseThrottle(raw)
}

func parseThrottle(raw string) ([]int64, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		secs, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid throttle seconds %q", p)
		}
		if secs < 0 {
			return nil, errors.Errorf("throttle seconds must be non-negative, got %d", secs)
		}
		out = append(out, secs)
	}
	return out, nil
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}
