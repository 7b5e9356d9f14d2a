// pkg/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`

	TenancyAddr   string `yaml:"tenancyAddr"`   // tenancy-service
	UserAddr      string `yaml:"userAddr"`      // user-service
	DirectoryAddr string `yaml:"directoryAddr"` // directory-service
	CORSOrigin    string `yaml:"corsOrigin"`

	// memory | postgres | dynamodb
	StoreBackend string `yaml:"storeBackend"`
	DatabaseURL  string `yaml:"databaseURL"`
	RedisURL     string `yaml:"redisURL"`
	AWSRegion    string `yaml:"awsRegion"`
	TenancyTable string `yaml:"tenancyTable"`
	UserTable    string `yaml:"userTable"`

	// static | cognito
	IdentityBackend  string        `yaml:"identityBackend"`
	CognitoUserPool  string        `yaml:"cognitoUserPool"`
	StaticUsers      string        `yaml:"staticUsers"`
	IdentityCacheTTL time.Duration `yaml:"identityCacheTTL"`
	ProviderTimeout  time.Duration `yaml:"providerTimeout"`
	BreakerFailures  int           `yaml:"breakerFailures"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`

	// log | ses | kafka
	NotifierBackend string        `yaml:"notifierBackend"`
	SESSender       string        `yaml:"sesSender"`
	KafkaBrokers    []string      `yaml:"kafkaBrokers"`
	KafkaTopic      string        `yaml:"kafkaTopic"`
	NotifyTimeout   time.Duration `yaml:"notifyTimeout"`

	// OIDC / JWT. With no JWKS URL the principal comes from X-Principal-Id.
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	JWKSURL   string        `yaml:"jwksURL"`
	ClockSkew time.Duration `yaml:"clockSkew"`

	ProvisionerID     string `yaml:"provisionerID"`
	EncryptionKey     string `yaml:"encryptionKey"`
	MutationAttempts  int    `yaml:"mutationAttempts"`
	LookupConcurrency int    `yaml:"lookupConcurrency"`

	DirectoryAuthority string `yaml:"directoryAuthority"`
	GraphBaseURL       string `yaml:"graphBaseURL"`
	AppURL             string `yaml:"appURL"`
}

func defaults() Config {
	return Config{
		Env:                "dev",
		LogLevel:           "info",
		TenancyAddr:        ":8080",
		UserAddr:           ":8081",
		DirectoryAddr:      ":8082",
		CORSOrigin:         "*",
		StoreBackend:       "memory",
		AWSRegion:          "eu-west-2",
		TenancyTable:       "tenancies",
		UserTable:          "users",
		IdentityBackend:    "static",
		IdentityCacheTTL:   5 * time.Minute,
		ProviderTimeout:    5 * time.Second,
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
		NotifierBackend:    "log",
		KafkaTopic:         "idsimplify.notifications",
		NotifyTimeout:      10 * time.Second,
		ClockSkew:          60 * time.Second,
		MutationAttempts:   3,
		LookupConcurrency:  8,
		DirectoryAuthority: "https://login.microsoftonline.com",
		GraphBaseURL:       "https://graph.microsoft.com/v1.0",
		AppURL:             "http://localhost:3000",
	}
}

// Load reads .env, then the YAML file named by IDS_CONFIG_FILE, then the
// environment. Later sources win.
func Load() Config {
	cfg, err := Read()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreBackend == "memory" {
		log.Println("[WARN] IDS_STORE=memory — state is lost on restart")
	}
	return cfg
}

// Read is Load without the fatal exit.
func Read() (Config, error) {
	_ = godotenv.Load()
	cfg := defaults()
	if path := os.Getenv("IDS_CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.Env = env("IDS_ENV", cfg.Env)
	cfg.LogLevel = env("IDS_LOG_LEVEL", cfg.LogLevel)
	cfg.TenancyAddr = env("IDS_TENANCY_ADDR", cfg.TenancyAddr)
	cfg.UserAddr = env("IDS_USER_ADDR", cfg.UserAddr)
	cfg.DirectoryAddr = env("IDS_DIRECTORY_ADDR", cfg.DirectoryAddr)
	cfg.CORSOrigin = env("IDS_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.StoreBackend = env("IDS_STORE", cfg.StoreBackend)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.AWSRegion = env("AWS_REGION", cfg.AWSRegion)
	cfg.TenancyTable = env("TENANCY_DB", cfg.TenancyTable)
	cfg.UserTable = env("USER_DB", cfg.UserTable)
	cfg.IdentityBackend = env("IDS_IDENTITY", cfg.IdentityBackend)
	cfg.CognitoUserPool = env("COGNITO_USER_POOL_ID", cfg.CognitoUserPool)
	cfg.StaticUsers = env("IDS_STATIC_USERS", cfg.StaticUsers)
	cfg.IdentityCacheTTL = envDur("IDS_IDENTITY_CACHE_TTL", cfg.IdentityCacheTTL)
	cfg.ProviderTimeout = envDur("IDS_PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	cfg.BreakerFailures = envInt("IDS_BREAKER_FAILURES", cfg.BreakerFailures)
	cfg.BreakerCooldown = envDur("IDS_BREAKER_COOLDOWN", cfg.BreakerCooldown)
	cfg.NotifierBackend = env("IDS_NOTIFIER", cfg.NotifierBackend)
	cfg.SESSender = env("SES_SENDER", cfg.SESSender)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	cfg.KafkaTopic = env("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.NotifyTimeout = envDur("IDS_NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	cfg.Issuer = env("OIDC_ISSUER", cfg.Issuer)
	cfg.Audience = env("OIDC_AUDIENCE", cfg.Audience)
	cfg.JWKSURL = env("JWKS_URL", cfg.JWKSURL)
	cfg.ClockSkew = envDur("JWT_CLOCK_SKEW", cfg.ClockSkew)
	cfg.ProvisionerID = env("IDS_PROVISIONER_ID", cfg.ProvisionerID)
	if cfg.ProvisionerID == "" {
		// machine principal of the identity platform's post-registration hook
		if id := os.Getenv("AUTH0_CLIENT_ID"); id != "" {
			cfg.ProvisionerID = id + "@clients"
		}
	}
	cfg.EncryptionKey = env("IDS_ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.MutationAttempts = envInt("IDS_MUTATION_ATTEMPTS", cfg.MutationAttempts)
	cfg.LookupConcurrency = envInt("IDS_LOOKUP_CONCURRENCY", cfg.LookupConcurrency)
	cfg.DirectoryAuthority = env("IDS_DIRECTORY_AUTHORITY", cfg.DirectoryAuthority)
	cfg.GraphBaseURL = env("IDS_GRAPH_BASE_URL", cfg.GraphBaseURL)
	cfg.AppURL = env("IDS_APP_URL", cfg.AppURL)

	if cfg.MutationAttempts < 1 {
		return Config{}, fmt.Errorf("mutation attempts must be at least 1, got %d", cfg.MutationAttempts)
	}
	switch cfg.StoreBackend {
	case "memory", "postgres", "dynamodb":
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("store backend postgres requires DATABASE_URL")
	}
	return cfg, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// envDur accepts a Go duration ("750ms") or a bare number of seconds.
func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return def
}
