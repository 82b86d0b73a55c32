// Package config loads go-locate settings. Defaults are overridden by an
// optional YAML file (path in $LOCATE_CONFIG), which is in turn overridden
// by environment variables, including those read from a local .env file.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"go-locate/internal/oid"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	SNMP     SNMPConfig     `yaml:"snmp"`
	Cache    CacheConfig    `yaml:"cache"`
	Lookup   LookupConfig   `yaml:"lookup"`
	LogLevel string         `yaml:"log_level"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SNMPConfig struct {
	Community      string        `yaml:"community"`
	Port           uint16        `yaml:"port"`
	Retries        int           `yaml:"retries"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// ForwardingOID is the port-forwarding column walked for MAC entries.
	ForwardingOID string `yaml:"forwarding_oid"`
	// NeighborOID is the neighbor-discovery column used to find uplinks.
	NeighborOID        string `yaml:"neighbor_oid"`
	NeighborIndexWidth int    `yaml:"neighbor_index_width"`
	// NeighborIfIndex is set when the neighbor table is keyed by ifIndex
	// rather than bridge port. Always on for CDP.
	NeighborIfIndex bool `yaml:"neighbor_ifindex"`
}

type CacheConfig struct {
	IgnoreTTL       time.Duration `yaml:"ignore_ttl"`
	ForwardingTTL   time.Duration `yaml:"forwarding_ttl"`
	CoreAddress     string        `yaml:"core_address"`
	Workers         int           `yaml:"workers"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LookupConfig struct {
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	PingPrivileged bool          `yaml:"ping_privileged"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Web:      WebConfig{Host: "0.0.0.0", Port: "8080"},
		Database: DatabaseConfig{Path: "/tmp/golocate.db"},
		SNMP: SNMPConfig{
			Community:          "public",
			Port:               161,
			ProbeTimeout:       100 * time.Millisecond,
			SessionTimeout:     5 * time.Second,
			ForwardingOID:      oid.Dot1dTpFdbPort,
			NeighborOID:        oid.LldpRemChassisID,
			NeighborIndexWidth: 1,
		},
		Cache: CacheConfig{
			IgnoreTTL:     7 * 24 * time.Hour,
			ForwardingTTL: 24 * time.Hour,
			Workers:       1,
		},
		Lookup: LookupConfig{
			PingTimeout:    time.Second,
			RequestTimeout: 2 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file and the
// environment.
func Load() (*Config, error) {
	// Load .env if exists
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("LOCATE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	p := envParser{lookup: lookup}

	p.strVar("WEB_HOST", &c.Web.Host)
	p.strVar("WEB_PORT", &c.Web.Port)
	p.strVar("DB_PATH", &c.Database.Path)
	p.strVar("LOG_LEVEL", &c.LogLevel)

	p.strVar("SNMP_COMMUNITY", &c.SNMP.Community)
	p.uint16Var("SNMP_PORT", &c.SNMP.Port)
	p.intVar("SNMP_RETRIES", &c.SNMP.Retries)
	p.durationVar("SNMP_PROBE_TIMEOUT", &c.SNMP.ProbeTimeout)
	p.durationVar("SNMP_SESSION_TIMEOUT", &c.SNMP.SessionTimeout)
	p.strVar("FORWARDING_OID", &c.SNMP.ForwardingOID)
	p.strVar("NEIGHBOR_OID", &c.SNMP.NeighborOID)
	p.intVar("NEIGHBOR_INDEX_WIDTH", &c.SNMP.NeighborIndexWidth)
	p.boolVar("NEIGHBOR_IFINDEX", &c.SNMP.NeighborIfIndex)

	p.durationVar("IGNORE_TTL", &c.Cache.IgnoreTTL)
	p.durationVar("FORWARDING_TTL", &c.Cache.ForwardingTTL)
	p.strVar("CORE_ADDRESS", &c.Cache.CoreAddress)
	p.intVar("POLL_WORKERS", &c.Cache.Workers)
	p.durationVar("REFRESH_INTERVAL", &c.Cache.RefreshInterval)

	p.durationVar("PING_TIMEOUT", &c.Lookup.PingTimeout)
	p.boolVar("PING_PRIVILEGED", &c.Lookup.PingPrivileged)
	p.durationVar("REQUEST_TIMEOUT", &c.Lookup.RequestTimeout)

	return p.err
}

func (c *Config) validate() error {
	switch {
	case c.SNMP.Community == "":
		return fmt.Errorf("snmp community must not be empty")
	case c.SNMP.SessionTimeout <= 0 || c.SNMP.ProbeTimeout <= 0:
		return fmt.Errorf("snmp timeouts must be positive")
	case c.Cache.IgnoreTTL <= 0 || c.Cache.ForwardingTTL <= 0:
		return fmt.Errorf("cache ttls must be positive")
	case c.SNMP.NeighborIndexWidth < 0:
		return fmt.Errorf("neighbor index width must not be negative")
	case oid.Normalize(c.SNMP.ForwardingOID) == "" || oid.Normalize(c.SNMP.NeighborOID) == "":
		return fmt.Errorf("table oids must not be empty")
	}

	if oid.Normalize(c.SNMP.NeighborOID) == oid.CdpCacheDeviceID {
		c.SNMP.NeighborIfIndex = true
	}

	// Devices are stored in netip's canonical form; the core address has
	// to match it byte for byte.
	if c.Cache.CoreAddress != "" {
		addr, err := netip.ParseAddr(strings.TrimSpace(c.Cache.CoreAddress))
		if err != nil {
			return fmt.Errorf("core address: %w", err)
		}
		c.Cache.CoreAddress = addr.Unmap().String()
	}
	return nil
}

// envParser applies set variables and keeps the first parse error.
type envParser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *envParser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	return v, ok && v != ""
}

func (p *envParser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("env %s=%q: %w", key, v, err)
	}
}

func (p *envParser) strVar(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *envParser) intVar(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) uint16Var(key string, dst *uint16) {
	if v, ok := p.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = uint16(n)
	}
}

func (p *envParser) boolVar(key string, dst *bool) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

// durationVar accepts Go durations ("36h") or a bare number of seconds.
func (p *envParser) durationVar(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}
