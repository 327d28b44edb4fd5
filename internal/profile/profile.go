package profile

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the memory store.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the admin server
	Addr string
	// Port is the binding port for the admin server
	Port int
	// Driver is the database driver (only postgres is supported)
	Driver string
	// DSN overrides the DB* connection fields when set
	DSN string

	// Database connection
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSL      bool

	// Connection pool
	MaxPoolSize       int           // max open connections (default: 10)
	IdleTimeout       time.Duration // close connections idle this long (default: 30s)
	MaxUses           int           // recycle a connection after N checkouts, 0 disables (default: 7500)
	ConnectionTimeout time.Duration // dial and acquire timeout (default: 10s)
	QueryTimeout      time.Duration // per statement timeout (default: 30s)
	AllowExitOnIdle   bool          // close without draining in-flight work
	ConnectRetries    int           // startup connection attempts (default: 5)
	RetryBackoff      time.Duration // fixed wait between startup attempts (default: 5s)

	// EmbeddingDimension is the vector length shared with the embedding service
	EmbeddingDimension int

	// Retention
	EpisodicRetention     time.Duration // default: 90 days
	SemanticRetention     time.Duration // default: 30 days
	SemanticMinConfidence *float64      // nil uses 0.3, 0 disables semantic pruning
	CleanupInterval       time.Duration // default: 5m

	// StatisticsCacheTTL caches admin statistics responses, 0 disables
	StatisticsCacheTTL time.Duration

	// Embedding service configuration
	EmbeddingProvider string // AGENTMEMORY_EMBEDDING_PROVIDER (default: openai)
	EmbeddingModel    string // AGENTMEMORY_EMBEDDING_MODEL (default: BAAI/bge-m3)
	EmbeddingAPIKey   string // AGENTMEMORY_EMBEDDING_API_KEY
	EmbeddingBaseURL  string // AGENTMEMORY_EMBEDDING_BASE_URL (default: https://api.openai.com/v1)
	EmbeddingRPS      float64 // AGENTMEMORY_EMBEDDING_RPS (default: 5)
}

const (
	DefaultMaxPoolSize           = 10
	DefaultIdleTimeout           = 30 * time.Second
	DefaultMaxUses               = 7500
	DefaultConnectionTimeout     = 10 * time.Second
	DefaultQueryTimeout          = 30 * time.Second
	DefaultConnectRetries        = 5
	DefaultRetryBackoff          = 5 * time.Second
	DefaultEmbeddingDimension    = 1024
	DefaultSemanticMinConfidence = 0.3
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding endpoint is configured.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads the embedding service configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("AGENTMEMORY_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("AGENTMEMORY_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingAPIKey = os.Getenv("AGENTMEMORY_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = getEnvOrDefault("AGENTMEMORY_EMBEDDING_BASE_URL", "https://api.openai.com/v1")

	rps, err := strconv.ParseFloat(getEnvOrDefault("AGENTMEMORY_EMBEDDING_RPS", "5"), 64)
	if err != nil || rps <= 0 {
		slog.Warn("invalid AGENTMEMORY_EMBEDDING_RPS, using default", "value", os.Getenv("AGENTMEMORY_EMBEDDING_RPS"))
		rps = 5
	}
	p.EmbeddingRPS = rps
}

// Validate fills defaults and checks the profile.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "postgres"
	}
	if p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q: only postgres is supported", p.Driver)
	}

	if p.MaxPoolSize <= 0 {
		p.MaxPoolSize = DefaultMaxPoolSize
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.MaxUses < 0 {
		return errors.New("max uses cannot be negative")
	}
	if p.ConnectionTimeout <= 0 {
		p.ConnectionTimeout = DefaultConnectionTimeout
	}
	if p.QueryTimeout <= 0 {
		p.QueryTimeout = DefaultQueryTimeout
	}
	if p.ConnectRetries <= 0 {
		p.ConnectRetries = DefaultConnectRetries
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = DefaultRetryBackoff
	}
	if p.EmbeddingDimension <= 0 {
		p.EmbeddingDimension = DefaultEmbeddingDimension
	}
	if p.EpisodicRetention <= 0 {
		p.EpisodicRetention = 90 * 24 * time.Hour
	}
	if p.SemanticRetention <= 0 {
		p.SemanticRetention = 30 * 24 * time.Hour
	}
	if p.SemanticMinConfidence == nil {
		minConfidence := DefaultSemanticMinConfidence
		p.SemanticMinConfidence = &minConfidence
	}
	if c := *p.SemanticMinConfidence; math.IsNaN(c) || c < 0 || c > 1 {
		return errors.Errorf("semantic min confidence must be within [0, 1], got %v", c)
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = 5 * time.Minute
	}

	if p.DSN == "" {
		dsn, err := p.buildDSN()
		if err != nil {
			slog.Error("failed to build dsn", slog.String("host", p.DBHost), slog.String("error", err.Error()))
			return err
		}
		p.DSN = dsn
	}
	return nil
}

// buildDSN assembles a postgres URL from the DB* fields.
func (p *Profile) buildDSN() (string, error) {
	if p.DBHost == "" {
		p.DBHost = "localhost"
	}
	if p.DBPort == 0 {
		p.DBPort = 5432
	}
	if p.DBName == "" {
		return "", errors.New("database name is required when dsn is not set")
	}

	sslMode := "disable"
	if p.DBSSL {
		sslMode = "require"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("connect_timeout", strconv.Itoa(max(1, int(p.ConnectionTimeout/time.Second))))

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.DBHost, strconv.Itoa(p.DBPort)),
		Path:     "/" + p.DBName,
		RawQuery: query.Encode(),
	}
	if p.DBUser != "" {
		if p.DBPassword != "" {
			u.User = url.UserPassword(p.DBUser, p.DBPassword)
		} else {
			u.User = url.User(p.DBUser)
		}
	}
	return u.String(), nil
}

// String describes the profile without credentials.
func (p *Profile) String() string {
	return fmt.Sprintf("mode=%s driver=%s host=%s db=%s pool=%d dim=%d", p.Mode, p.Driver, p.DBHost, p.DBName, p.MaxPoolSize, p.EmbeddingDimension)
}
