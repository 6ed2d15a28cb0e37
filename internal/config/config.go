// Package config loads and validates the operator-facing configuration
// described in spec.md §6, in the style of the teacher's internal/config
// package: a strict YAML document (unknown keys rejected) with
// "${VAR}" / "${VAR:default}" environment-variable interpolation applied
// to every string field before unmarshalling.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the full enumerated configuration surface from spec.md §6.
type Config struct {
	FqOrCAKE string `yaml:"fqOrCAKE"`

	UpstreamBandwidthCapacityDownloadMbps int `yaml:"upstreamBandwidthCapacityDownloadMbps"`
	UpstreamBandwidthCapacityUploadMbps   int `yaml:"upstreamBandwidthCapacityUploadMbps"`

	GeneratedPNDownloadMbps int `yaml:"generatedPNDownloadMbps"`
	GeneratedPNUploadMbps   int `yaml:"generatedPNUploadMbps"`

	InterfaceA string `yaml:"interfaceA"`
	InterfaceB string `yaml:"interfaceB"`

	EnableActualShellCommands bool `yaml:"enableActualShellCommands"`
	RunShellCommandsAsSudo    bool `yaml:"runShellCommandsAsSudo"`

	QueuesAvailableOverride int  `yaml:"queuesAvailableOverride"`
	UseBinPackingToBalanceCPU bool `yaml:"useBinPackingToBalanceCPU"`

	TCPOverheadFactor      float64 `yaml:"tcpOverheadFactor"`
	BandwidthOverheadFactor float64 `yaml:"bandwidthOverheadFactor"`

	TimeSeries TimeSeriesConfig `yaml:"timeSeries"`

	Paths PathsConfig `yaml:"paths"`

	Audit AuditConfig `yaml:"audit"`

	// Serve configures the optional `lqosd serve` status API and its
	// internal stats-collection scheduler (SPEC_FULL.md §2.3, §2.7).
	Serve ServeConfig `yaml:"serve"`

	// IgnoreSubnets / AllowedSubnets / ExceptionCPEs / Suspended are
	// supplemented features from original_source/ (SPEC_FULL.md §4),
	// off by default.
	IgnoreSubnets  []string          `yaml:"ignoreSubnets"`
	AllowedSubnets []string          `yaml:"allowedSubnets"`
	ExceptionCPEs  map[string]string `yaml:"exceptionCPEs"`

	SuspendedDownloadMbps int `yaml:"suspendedDownloadMbps"`
	SuspendedUploadMbps   int `yaml:"suspendedUploadMbps"`
}

// TimeSeriesConfig configures the external time-series publisher (spec.md
// §6: "time-series URL/bucket/org/token").
type TimeSeriesConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Bucket  string `yaml:"bucket"`
	Org     string `yaml:"org"`
	Token   string `yaml:"token"`
}

// PathsConfig points at the on-disk persistence files described in
// spec.md §4.8.
type PathsConfig struct {
	StateDir string `yaml:"stateDir"`
}

// AuditConfig selects the optional SQL-backed audit/history store
// (SPEC_FULL.md §2.4).
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // "sqlite" or "postgres"
	SQLite   string `yaml:"sqlitePath"`
	Postgres string `yaml:"postgresDSN"`
}

// ServeConfig controls `lqosd serve`: the read-only status HTTP API and
// the scheduler that fires a stats-collection pass on an interval instead
// of relying on an external cron (SPEC_FULL.md §2.3).
type ServeConfig struct {
	APIPort              string `yaml:"apiPort"`
	StatsIntervalSeconds int    `yaml:"statsIntervalSeconds"`
}

// Default returns the built-in defaults, matching the original's
// ispConfig.example.py values (SPEC_FULL.md §1).
func Default() *Config {
	return &Config{
		FqOrCAKE:                              "cake diffserv4",
		UpstreamBandwidthCapacityDownloadMbps: 1000,
		UpstreamBandwidthCapacityUploadMbps:   1000,
		GeneratedPNDownloadMbps:               1000,
		GeneratedPNUploadMbps:                 1000,
		InterfaceA:                            "eth1",
		InterfaceB:                            "eth2",
		EnableActualShellCommands:             true,
		RunShellCommandsAsSudo:                false,
		QueuesAvailableOverride:               0,
		UseBinPackingToBalanceCPU:             true,
		TCPOverheadFactor:                     1.09,
		BandwidthOverheadFactor:               1.0,
		Paths:                                 PathsConfig{StateDir: "/var/lib/lqosd"},
		Audit:                                 AuditConfig{Enabled: false, Backend: "sqlite", SQLite: "/var/lib/lqosd/audit.db"},
		Serve:                                 ServeConfig{APIPort: "8080", StatsIntervalSeconds: 30},
		SuspendedDownloadMbps:                 1,
		SuspendedUploadMbps:                   1,
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

// interpolateEnv expands "${VAR}" and "${VAR:default}" occurrences in raw
// YAML bytes before they're parsed, exactly as the teacher's config loader
// does for database credentials.
func interpolateEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		name := string(groups[1])
		def := string(groups[3])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads a YAML configuration file, applies environment interpolation,
// rejects unknown keys, fills in defaults for zero-valued fields that the
// file didn't set, and validates cross-field invariants.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	raw = interpolateEnv(raw)

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the cross-field invariants a ConfigInvalid error
// (spec.md §7) aborts on.
func (c *Config) Validate() error {
	if c.FqOrCAKE != "fq_codel" && c.FqOrCAKE != "cake diffserv4" {
		return fmt.Errorf("fqOrCAKE must be 'fq_codel' or 'cake diffserv4', got %q", c.FqOrCAKE)
	}
	if c.InterfaceA == "" || c.InterfaceB == "" {
		return fmt.Errorf("interfaceA and interfaceB are required")
	}
	if c.InterfaceA == c.InterfaceB {
		return fmt.Errorf("interfaceA and interfaceB must differ")
	}
	if c.UpstreamBandwidthCapacityDownloadMbps <= 0 || c.UpstreamBandwidthCapacityUploadMbps <= 0 {
		return fmt.Errorf("upstream bandwidth capacities must be positive")
	}
	if c.GeneratedPNDownloadMbps <= 0 || c.GeneratedPNUploadMbps <= 0 {
		return fmt.Errorf("generated parent bandwidth caps must be positive")
	}
	if c.TCPOverheadFactor <= 0 {
		return fmt.Errorf("tcpOverheadFactor must be positive")
	}
	if c.BandwidthOverheadFactor <= 0 {
		return fmt.Errorf("bandwidthOverheadFactor must be positive")
	}
	if c.QueuesAvailableOverride < 0 {
		return fmt.Errorf("queuesAvailableOverride must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.Backend != "sqlite" && c.Audit.Backend != "postgres" {
		return fmt.Errorf("audit.backend must be 'sqlite' or 'postgres', got %q", c.Audit.Backend)
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.stateDir is required")
	}
	if c.Serve.StatsIntervalSeconds < 0 {
		return fmt.Errorf("serve.statsIntervalSeconds must be >= 0")
	}
	return nil
}

// CakeDiffserv4 reports whether CAKE diffserv4 tin classification is
// configured (spec.md §4.7 step 3).
func (c *Config) CakeDiffserv4() bool {
	return c.FqOrCAKE == "cake diffserv4"
}

// QdiscCommand returns the leaf qdisc command fragment ("fq_codel" or
// "cake diffserv4") used when compiling queue-tree commands (spec.md §4.4).
func (c *Config) QdiscCommand() string {
	return c.FqOrCAKE
}
