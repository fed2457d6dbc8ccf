// Package config loads process configuration from VERIFACE_* environment
// variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"veriface/internal/ephemeral"
	"veriface/internal/verification"
)

const envPrefix = "VERIFACE_"

// Index backends.
const (
	IndexMemory = "memory"
	IndexRedis  = "redis"
)

// Audit backends.
const (
	AuditMemory   = "memory"
	AuditPostgres = "postgres"
	AuditKafka    = "kafka"
)

// Config is the full process configuration.
type Config struct {
	// Addr serves health, readiness, metrics and the audit endpoints.
	Addr      string `env:"ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// OpsToken guards the audit endpoints. They reject every call when empty.
	OpsToken string `env:"OPS_TOKEN"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Pipeline  Pipeline
	Retention Retention
	Index     Index
	Redis     Redis
	Audit     Audit
	Collab    Collaborators

	// OTelEndpoint enables tracing when set.
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"veriface"`
}

// Pipeline mirrors verification.Config.
type Pipeline struct {
	LivenessThreshold     float64       `env:"LIVENESS_THRESHOLD" envDefault:"0.5"`
	MatchThreshold        float64       `env:"MATCH_THRESHOLD" envDefault:"0.001"`
	RegistrationThreshold float64       `env:"REGISTRATION_THRESHOLD" envDefault:"0.02"`
	FusionDepth           int           `env:"FUSION_DEPTH" envDefault:"8"`
	StageTimeout          time.Duration `env:"STAGE_TIMEOUT" envDefault:"10s"`
	MaxConcurrentCalls    int64         `env:"MAX_CONCURRENT_CALLS" envDefault:"16"`
	DuplicateTopK         int           `env:"DUPLICATE_TOP_K" envDefault:"5"`
	DuplicateThreshold    float64       `env:"DUPLICATE_THRESHOLD" envDefault:"0.95"`
	RenderSize            int           `env:"RENDER_SIZE" envDefault:"112"`
	WorkDir               string        `env:"WORK_DIR" envDefault:"/tmp/veriface/work"`
	HashSalt              string        `env:"HASH_SALT"`
	HashPepper            string        `env:"HASH_PEPPER"`
}

// Retention configures retained artifacts and the purge sweeper.
type Retention struct {
	ArtifactDir string `env:"ARTIFACT_DIR" envDefault:"/tmp/veriface/artifacts"`
	// Policies is a comma separated list of name:ttl pairs.
	Policies      string        `env:"RETENTION_POLICIES" envDefault:"short:1h,long:720h"`
	RetainFused   string        `env:"RETAIN_FUSED_POLICY"`
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"5m"`
	// EncryptionKey is a base64 32-byte key. Artifacts are stored in the
	// clear when empty.
	EncryptionKey string `env:"ARTIFACT_ENCRYPTION_KEY"`
}

type Index struct {
	Backend   string `env:"INDEX_BACKEND" envDefault:"memory"`
	Dimension int    `env:"INDEX_DIMENSION" envDefault:"512"`
	Key       string `env:"INDEX_KEY" envDefault:"veriface:embeddings"`
}

type Redis struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type Audit struct {
	Backend      string   `env:"AUDIT_BACKEND" envDefault:"memory"`
	PostgresDSN  string   `env:"POSTGRES_DSN"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"veriface.audit"`
	// KafkaGroup names the consumer group that materializes the topic into
	// postgres. No consumer runs when empty or when no DSN is set.
	KafkaGroup      string `env:"KAFKA_GROUP" envDefault:"veriface-audit"`
	KafkaPartitions int32  `env:"KAFKA_PARTITIONS" envDefault:"3"`
	KafkaReplicas   int16  `env:"KAFKA_REPLICAS" envDefault:"1"`
	// PersistOperations also materializes sampled stage events into
	// postgres; by default they stay on the topic.
	PersistOperations bool    `env:"AUDIT_PERSIST_OPERATIONS" envDefault:"false"`
	AsyncBuffer       int     `env:"AUDIT_ASYNC_BUFFER" envDefault:"1024"`
	SampleRate        float64 `env:"AUDIT_OPS_SAMPLE_RATE" envDefault:"1"`
}

// Collaborators points at the model sidecars.
type Collaborators struct {
	BaseURL string        `env:"COLLABORATOR_URL"`
	Timeout time.Duration `env:"COLLABORATOR_HTTP_TIMEOUT" envDefault:"30s"`
	// Detector enables the face detection sidecar; without it the full
	// frame is used as the crop.
	Detector bool `env:"DETECTOR_ENABLED" envDefault:"true"`
	// InProcessFuser replaces the fusion sidecar with the height-field fuser.
	InProcessFuser   bool          `env:"IN_PROCESS_FUSER" envDefault:"false"`
	BreakerFailures  int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerSuccesses int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"2"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: envPrefix})
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Verification().Validate(); err != nil {
		return err
	}
	policies, err := c.Retention.ParsePolicies()
	if err != nil {
		return err
	}
	registry, err := ephemeral.NewRegistry(policies)
	if err != nil {
		return err
	}
	if p := c.Retention.RetainFused; p != "" {
		if _, ok := registry.TTL(p); !ok {
			return fmt.Errorf("%w: %q", ephemeral.ErrUnknownPolicy, p)
		}
	}
	if _, err := c.Retention.Key(); err != nil {
		return err
	}
	switch c.Index.Backend {
	case IndexMemory:
	case IndexRedis:
		if c.Redis.URL == "" {
			return errors.New("VERIFACE_REDIS_URL is required for the redis index")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if c.Index.Dimension <= 0 {
		return errors.New("index dimension must be positive")
	}
	switch c.Audit.Backend {
	case AuditMemory:
	case AuditPostgres:
		if c.Audit.PostgresDSN == "" {
			return errors.New("VERIFACE_POSTGRES_DSN is required for the postgres audit store")
		}
	case AuditKafka:
		if len(c.Audit.KafkaBrokers) == 0 {
			return errors.New("VERIFACE_KAFKA_BROKERS is required for the kafka audit store")
		}
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	if c.Audit.Backend == AuditKafka && (c.Audit.KafkaPartitions <= 0 || c.Audit.KafkaReplicas <= 0) {
		return errors.New("kafka partitions and replicas must be positive")
	}
	if c.Audit.AsyncBuffer < 0 {
		return errors.New("audit async buffer must not be negative")
	}
	if math.IsNaN(c.Audit.SampleRate) || c.Audit.SampleRate < 0 || c.Audit.SampleRate > 1 {
		return fmt.Errorf("audit sample rate must be in [0, 1], got %v", c.Audit.SampleRate)
	}
	if c.Collab.BaseURL == "" {
		return errors.New("VERIFACE_COLLABORATOR_URL is required")
	}
	if c.Retention.PurgeInterval <= 0 {
		return errors.New("purge interval must be positive")
	}
	return nil
}

// Verification builds the pipeline configuration.
func (c *Config) Verification() verification.Config {
	p := c.Pipeline
	return verification.Config{
		LivenessThreshold:     p.LivenessThreshold,
		MatchThreshold:        p.MatchThreshold,
		RegistrationThreshold: p.RegistrationThreshold,
		FusionDepth:           p.FusionDepth,
		StageTimeout:          p.StageTimeout,
		MaxConcurrentCalls:    p.MaxConcurrentCalls,
		DuplicateTopK:         p.DuplicateTopK,
		DuplicateThreshold:    p.DuplicateThreshold,
		RenderSize:            p.RenderSize,
		WorkDir:               p.WorkDir,
		ArtifactDir:           c.Retention.ArtifactDir,
		RetainFusedPolicy:     c.Retention.RetainFused,
		HashSalt:              p.HashSalt,
		HashPepper:            p.HashPepper,
	}
}

// ParsePolicies parses "name:ttl,name:ttl".
func (r Retention) ParsePolicies() ([]ephemeral.Policy, error) {
	var out []ephemeral.Policy
	seen := make(map[string]bool)
	for _, part := range strings.Split(r.Policies, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, ttl, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("retention policy %q: want name:ttl", part)
		}
		name = strings.TrimSpace(name)
		d, err := time.ParseDuration(strings.TrimSpace(ttl))
		if err != nil {
			return nil, fmt.Errorf("retention policy %q: %w", name, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("retention policy %q defined twice", name)
		}
		seen[name] = true
		out = append(out, ephemeral.Policy{Name: name, TTL: d})
	}
	return out, nil
}

// Key decodes the artifact encryption key. It returns nil when unset.
func (r Retention) Key() ([]byte, error) {
	if r.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(r.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode artifact encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("artifact encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
