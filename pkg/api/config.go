// Package api holds the configuration surface shared by the sensor and
// control-plane binaries and the helpers to parse, merge and validate it.
package api

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/analyzer"
)

const (
	DefaultListenAddr             = ":2222"
	DefaultStrikeThreshold        = 5
	DefaultStrikeWindowSeconds    = 60
	DefaultBlockTTLSeconds        = 60
	DefaultMaxConcurrentSessions  = 50
	DefaultSessionTimeoutSeconds  = 60
	DefaultVerdictDeadlineSeconds = 5.5
	DefaultSyncIntervalSeconds    = 10
	DefaultQueueCapacity          = 1024
	DefaultRiskThreshold          = 80
)

// Credential is a username/password pair. Bait credentials are deliberately
// plantable pairs that grant a high-interaction session when guessed.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Matches reports whether the pair equals the attempted login exactly.
func (c Credential) Matches(username, password string) bool {
	return c.Username == username && c.Password == password
}

// DefaultBaitCredentials are the planted pairs used when none are configured.
func DefaultBaitCredentials() []Credential {
	return []Credential{
		{Username: "admin", Password: "admin"},
		{Username: "root", Password: "1234"},
	}
}

type Config struct {
	SensorID     string              `json:"sensor_id,omitempty"`
	ListenAddr   string              `json:"listen_addr,omitempty"`
	Policy       *PolicyConfig       `json:"policy,omitempty"`
	Limits       *LimitsConfig       `json:"limits,omitempty"`
	Oracle       *OracleConfig       `json:"oracle,omitempty"`
	ControlPlane *ControlPlaneConfig `json:"control_plane,omitempty"`
	Telemetry    *TelemetryConfig    `json:"telemetry,omitempty"`
	Analyzer     *analyzer.Config    `json:"analyzer,omitempty"`
	Decoys       *DecoyConfig        `json:"decoys,omitempty"`
	Log          *LogConfig          `json:"log,omitempty"`
}

// PolicyConfig governs admission: interaction mode, bait pairs and the
// strike/block rules.
type PolicyConfig struct {
	AllowAllCreds       bool         `json:"allow_all_creds,omitempty"`
	BaitCredentials     []Credential `json:"bait_credentials,omitempty"`
	StrikeThreshold     int          `json:"strike_threshold,omitempty"`
	StrikeWindowSeconds int          `json:"strike_window_seconds,omitempty"`
	// BlockTTLSeconds is a pointer so an explicit 0 (block entries never
	// expire) is distinguishable from unset (default TTL).
	BlockTTLSeconds *int `json:"block_ttl_seconds,omitempty"`
}

type LimitsConfig struct {
	MaxConcurrentSessions int `json:"max_concurrent_sessions,omitempty"`
	SessionTimeoutSeconds int `json:"session_timeout_seconds,omitempty"`
}

type OracleConfig struct {
	URL                    string  `json:"url,omitempty"`
	APIKey                 string  `json:"api_key,omitempty"`
	VerdictDeadlineSeconds float64 `json:"verdict_deadline_seconds,omitempty"`
}

type ControlPlaneConfig struct {
	URL                 string `json:"url,omitempty"`
	IngestKey           string `json:"ingest_key,omitempty"`
	BlocklistKey        string `json:"blocklist_key,omitempty"`
	SyncIntervalSeconds int    `json:"sync_interval_seconds,omitempty"`
}

type TelemetryConfig struct {
	QueueCapacity int    `json:"queue_capacity,omitempty"`
	SpoolPath     string `json:"spool_path,omitempty"`
	LogPath       string `json:"log_path,omitempty"`
}

type DecoyConfig struct {
	BlueprintPath string `json:"blueprint_path,omitempty"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// GetAllowAllCreds reports the configured interaction mode, low by default.
func (p *PolicyConfig) GetAllowAllCreds() bool {
	return p != nil && p.AllowAllCreds
}

// GetBaitCredentials returns the configured bait pairs or the defaults.
func (p *PolicyConfig) GetBaitCredentials() []Credential {
	if p != nil && len(p.BaitCredentials) > 0 {
		return p.BaitCredentials
	}
	return DefaultBaitCredentials()
}

// IsBait reports whether the attempted login matches any bait pair.
func (p *PolicyConfig) IsBait(username, password string) bool {
	for _, c := range p.GetBaitCredentials() {
		if c.Matches(username, password) {
			return true
		}
	}
	return false
}

// GetStrikeThreshold returns the failed-login count that triggers a block.
func (p *PolicyConfig) GetStrikeThreshold() int {
	if p != nil && p.StrikeThreshold > 0 {
		return p.StrikeThreshold
	}
	return DefaultStrikeThreshold
}

// GetStrikeWindow returns the sliding window strikes are counted within.
func (p *PolicyConfig) GetStrikeWindow() time.Duration {
	if p != nil && p.StrikeWindowSeconds > 0 {
		return time.Duration(p.StrikeWindowSeconds) * time.Second
	}
	return DefaultStrikeWindowSeconds * time.Second
}

// GetBlockTTL returns how long strike-triggered blocks last. Zero means the
// entries never expire.
func (p *PolicyConfig) GetBlockTTL() time.Duration {
	if p != nil && p.BlockTTLSeconds != nil {
		return time.Duration(*p.BlockTTLSeconds) * time.Second
	}
	return DefaultBlockTTLSeconds * time.Second
}

// GetMaxSessions returns the concurrent session cap.
func (l *LimitsConfig) GetMaxSessions() int {
	if l != nil && l.MaxConcurrentSessions > 0 {
		return l.MaxConcurrentSessions
	}
	return DefaultMaxConcurrentSessions
}

// GetSessionTimeout returns the hard per-session wall-clock ceiling.
func (l *LimitsConfig) GetSessionTimeout() time.Duration {
	if l != nil && l.SessionTimeoutSeconds > 0 {
		return time.Duration(l.SessionTimeoutSeconds) * time.Second
	}
	return DefaultSessionTimeoutSeconds * time.Second
}

// GetDeadline returns the per-command verdict budget.
func (o *OracleConfig) GetDeadline() time.Duration {
	if o != nil && o.VerdictDeadlineSeconds > 0 {
		return time.Duration(o.VerdictDeadlineSeconds * float64(time.Second))
	}
	return time.Duration(DefaultVerdictDeadlineSeconds * float64(time.Second))
}

// GetSyncInterval returns the blocklist pull cadence.
func (c *ControlPlaneConfig) GetSyncInterval() time.Duration {
	if c != nil && c.SyncIntervalSeconds > 0 {
		return time.Duration(c.SyncIntervalSeconds) * time.Second
	}
	return DefaultSyncIntervalSeconds * time.Second
}

// GetQueueCapacity returns the bounded telemetry queue size.
func (t *TelemetryConfig) GetQueueCapacity() int {
	if t != nil && t.QueueCapacity > 0 {
		return t.QueueCapacity
	}
	return DefaultQueueCapacity
}

// GetSensorID returns the configured sensor ID, generating one if unset.
func (c *Config) GetSensorID() string {
	if c.SensorID == "" {
		c.SensorID = GenerateSensorID()
	}
	return c.SensorID
}

// GetListenAddr returns the sensor listen address.
func (c *Config) GetListenAddr() string {
	if c != nil && c.ListenAddr != "" {
		return c.ListenAddr
	}
	return DefaultListenAddr
}

// GenerateSensorID returns a fresh short sensor identifier.
func GenerateSensorID() string {
	return "sensor-" + uuid.New().String()[:8]
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Policy: &PolicyConfig{
			StrikeThreshold:     DefaultStrikeThreshold,
			StrikeWindowSeconds: DefaultStrikeWindowSeconds,
		},
		Limits: &LimitsConfig{
			MaxConcurrentSessions: DefaultMaxConcurrentSessions,
			SessionTimeoutSeconds: DefaultSessionTimeoutSeconds,
		},
		Telemetry: &TelemetryConfig{
			QueueCapacity: DefaultQueueCapacity,
		},
	}
}

// Validate checks config invariants. It does not fill defaults; the Get
// accessors do that at read time.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if p := c.Policy; p != nil {
		if p.StrikeThreshold < 0 {
			return errx.With(ErrInvalidConfig, ": policy.strike_threshold must be >= 1")
		}
		if p.StrikeWindowSeconds < 0 {
			return errx.With(ErrInvalidConfig, ": policy.strike_window_seconds must be >= 1")
		}
		if p.BlockTTLSeconds != nil && *p.BlockTTLSeconds < 0 {
			return errx.With(ErrInvalidConfig, ": policy.block_ttl_seconds must be >= 0")
		}
		for _, cred := range p.BaitCredentials {
			if cred.Username == "" {
				return errx.With(ErrInvalidConfig, ": policy.bait_credentials entries need a username")
			}
		}
	}
	if l := c.Limits; l != nil {
		if l.MaxConcurrentSessions < 0 {
			return errx.With(ErrInvalidConfig, ": limits.max_concurrent_sessions must be >= 1")
		}
		if l.SessionTimeoutSeconds < 0 {
			return errx.With(ErrInvalidConfig, ": limits.session_timeout_seconds must be >= 1")
		}
	}
	if o := c.Oracle; o != nil {
		if o.VerdictDeadlineSeconds < 0 {
			return errx.With(ErrInvalidConfig, ": oracle.verdict_deadline_seconds must be > 0")
		}
		if o.APIKey != "" && o.URL == "" {
			return errx.With(ErrInvalidConfig, ": oracle.api_key is set but oracle.url is empty")
		}
	}
	if cp := c.ControlPlane; cp != nil {
		if cp.SyncIntervalSeconds < 0 {
			return errx.With(ErrInvalidConfig, ": control_plane.sync_interval_seconds must be >= 1")
		}
	}
	if t := c.Telemetry; t != nil && t.QueueCapacity < 0 {
		return errx.With(ErrInvalidConfig, ": telemetry.queue_capacity must be >= 1")
	}
	return nil
}

func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c
	if other.SensorID != "" {
		result.SensorID = other.SensorID
	}
	if other.ListenAddr != "" {
		result.ListenAddr = other.ListenAddr
	}
	if other.Policy != nil {
		result.Policy = other.Policy
	}
	if other.Limits != nil {
		result.Limits = other.Limits
	}
	if other.Oracle != nil {
		result.Oracle = other.Oracle
	}
	if other.ControlPlane != nil {
		result.ControlPlane = other.ControlPlane
	}
	if other.Telemetry != nil {
		result.Telemetry = other.Telemetry
	}
	if other.Analyzer != nil {
		result.Analyzer = other.Analyzer
	}
	if other.Decoys != nil {
		result.Decoys = other.Decoys
	}
	if other.Log != nil {
		result.Log = other.Log
	}
	return &result
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errx.Wrap(ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses a JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}
