package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	AutoMigrate bool
	LogLevel    string

	VerifyBaseURL    string
	MaxDocumentBytes int64

	ContentStore       string
	IPFSAPIURL         string
	IPFSTimeout        time.Duration
	OSSEndpoint        string
	OSSAccessKeyID     string
	OSSAccessKeySecret string
	OSSBucket          string
	OSSPrefix          string

	LedgerRPCURL          string
	LedgerChainID         int64
	LedgerContractAddress string
	LedgerPrivateKeyHex   string
	LedgerConfirmations   int
	LedgerConfirmTimeout  time.Duration
	LedgerPollInterval    time.Duration
	IssuanceStepTimeout   time.Duration

	LeaseBackend string
	// LeaseTTL is never renewed. The 5m default covers three
	// IssuanceStepTimeouts plus LedgerConfirmTimeout at their defaults; a
	// shorter value is raised to the run bound at startup.
	LeaseTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IssuancePolicyPath string
	ReconcileSchedule  string
	ReconcileTimeout   time.Duration
}

// Load reads a .env file when one is present, then builds the config from
// the environment. Variables already set in the process win.
func Load(files ...string) Config {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("config: load .env: %v", err)
		}
	}
	return FromEnv()
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:              addr,
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		AutoMigrate:           envBoolDefault("AUTO_MIGRATE", true),
		LogLevel:              envDefault("LOG_LEVEL", "info"),
		VerifyBaseURL:         os.Getenv("VERIFY_BASE_URL"),
		MaxDocumentBytes:      int64(envIntDefault("MAX_DOCUMENT_BYTES", 10<<20)),
		ContentStore:          strings.ToLower(envDefault("CONTENT_STORE", "memory")),
		IPFSAPIURL:            envDefault("IPFS_API_URL", "http://127.0.0.1:5001"),
		IPFSTimeout:           envDurationDefault("IPFS_TIMEOUT", 60*time.Second),
		OSSEndpoint:           os.Getenv("OSS_ENDPOINT"),
		OSSAccessKeyID:        os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSAccessKeySecret:    os.Getenv("OSS_ACCESS_KEY_SECRET"),
		OSSBucket:             os.Getenv("OSS_BUCKET"),
		OSSPrefix:             envDefault("OSS_PREFIX", "certificates"),
		LedgerRPCURL:          os.Getenv("LEDGER_RPC_URL"),
		LedgerChainID:         int64(envIntDefault("LEDGER_CHAIN_ID", 44787)),
		LedgerContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
		LedgerPrivateKeyHex:   os.Getenv("LEDGER_PRIVATE_KEY_HEX"),
		LedgerConfirmations:   envIntDefault("LEDGER_CONFIRMATIONS", 1),
		LedgerConfirmTimeout:  envDurationDefault("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
		LedgerPollInterval:    envDurationDefault("LEDGER_POLL_INTERVAL", 2*time.Second),
		IssuanceStepTimeout:   envDurationDefault("ISSUANCE_STEP_TIMEOUT", 60*time.Second),
		LeaseBackend:          strings.ToLower(envDefault("LEASE_BACKEND", "memory")),
		LeaseTTL:              envDurationDefault("LEASE_TTL", 5*time.Minute),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               envIntDefault("REDIS_DB", 0),
		IssuancePolicyPath:    os.Getenv("ISSUANCE_POLICY_PATH"),
		ReconcileSchedule:     envDefault("RECONCILE_SCHEDULE", "@every 30s"),
		ReconcileTimeout:      envDurationDefault("RECONCILE_TIMEOUT", 2*time.Minute),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// envDurationDefault accepts Go durations ("90s") or whole seconds ("90").
func envDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
		return parsed
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func (c Config) LedgerConfigured() bool {
	return c.LedgerRPCURL != "" && c.LedgerContractAddress != "" && c.LedgerPrivateKeyHex != ""
}
