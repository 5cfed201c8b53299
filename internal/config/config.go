package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

type Peer struct {
	Role    model.Role `json:"role" yaml:"role"`
	Address string     `json:"address" yaml:"address"`
}

type Relay struct {
	Host                string `json:"host" yaml:"host"`
	Port                int    `json:"port" yaml:"port"`
	Path                string `json:"path" yaml:"path"`
	TLS                 bool   `json:"tls" yaml:"tls"`
	ReconnectIntervalMs int    `json:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	PingIntervalMs      int    `json:"ping_interval_ms" yaml:"ping_interval_ms"`
	PongTimeoutMs       int    `json:"pong_timeout_ms" yaml:"pong_timeout_ms"`
	MissedPongTolerance int    `json:"missed_pong_tolerance" yaml:"missed_pong_tolerance"`
	RetryLogIntervalMs  int    `json:"retry_log_interval_ms" yaml:"retry_log_interval_ms"`
	HandshakeTimeoutMs  int    `json:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
	StatusIntervalMs    int    `json:"status_interval_ms" yaml:"status_interval_ms"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
}

type Radio struct {
	Driver        string `json:"driver" yaml:"driver"` // "serial" or "stub"
	Port          string `json:"port" yaml:"port"`
	BaudRate      int    `json:"baud_rate" yaml:"baud_rate"`
	PeerTableSize int    `json:"peer_table_size" yaml:"peer_table_size"`
}

type Config struct {
	ConfigFile string        `json:"-" yaml:"-"`
	DBPath     string        `json:"-" yaml:"-"`
	LogFile    string        `json:"-" yaml:"-"`
	Console    bool          `json:"-" yaml:"-"`
	LogLevel   zerolog.Level `json:"-" yaml:"-"`

	DeviceID           string            `json:"device_id" yaml:"device_id"`
	DefaultCredentials model.Credentials `json:"default_credentials" yaml:"default_credentials"`
	WifiInterface      string            `json:"wifi_interface" yaml:"wifi_interface"`
	APInterface        string            `json:"ap_interface" yaml:"ap_interface"` // defaults to WifiInterface

	PortalSSID         string `json:"portal_ssid" yaml:"portal_ssid"`
	PortalPassphrase   string `json:"portal_passphrase" yaml:"portal_passphrase"`
	PortalListenAddr   string `json:"portal_listen_addr" yaml:"portal_listen_addr"`
	PortalCloseDelayMs int    `json:"portal_close_delay_ms" yaml:"portal_close_delay_ms"`

	ConnectTimeoutMs int `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ConnectPollMs    int `json:"connect_poll_ms" yaml:"connect_poll_ms"`
	TickIntervalMs   int `json:"tick_interval_ms" yaml:"tick_interval_ms"`

	Relay Relay `json:"relay" yaml:"relay"`

	Peers         []Peer `json:"peers" yaml:"peers"`
	PeerTimeoutMs int    `json:"peer_timeout_ms" yaml:"peer_timeout_ms"`
	Radio         Radio  `json:"radio" yaml:"radio"`

	DDAgentAddr   string   `json:"dd_agent_addr" yaml:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace" yaml:"dd_namespace"`
	DDTags        []string `json:"dd_tags" yaml:"dd_tags"`
	EnableDatadog bool     `json:"enable_datadog" yaml:"enable_datadog"`

	NtfyTopic string `json:"ntfy_topic" yaml:"ntfy_topic"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.yml", "Path to supervisor config file (.json, .yml or .yaml)")
	flag.StringVar(&cfg.DBPath, "db", "data/pai.db", "Path to the SQLite preferences database")
	flag.StringVar(&cfg.LogFile, "log-file", "/var/log/pai-supervisor.log", "Path to the log file, empty for stderr only")
	flag.BoolVar(&cfg.Console, "console", false, "Also write human-readable logs to stderr")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}

	if err := decode(data, filepath.Ext(cfg.ConfigFile), &cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	setDefault := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setDefaultStr := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}

	setDefaultStr(&cfg.DeviceID, "PAI-MASTER")
	setDefaultStr(&cfg.WifiInterface, "wlan0")
	setDefaultStr(&cfg.APInterface, cfg.WifiInterface)
	setDefaultStr(&cfg.PortalSSID, "PAI-Setup")
	setDefaultStr(&cfg.PortalPassphrase, "pai12345")
	setDefaultStr(&cfg.PortalListenAddr, ":80")
	setDefault(&cfg.PortalCloseDelayMs, 5000)
	setDefault(&cfg.ConnectTimeoutMs, 20000)
	setDefault(&cfg.ConnectPollMs, 250)
	setDefault(&cfg.TickIntervalMs, 10)

	setDefaultStr(&cfg.Relay.Path, "/esp32")
	setDefault(&cfg.Relay.Port, 3000)
	setDefault(&cfg.Relay.ReconnectIntervalMs, 10000)
	setDefault(&cfg.Relay.PingIntervalMs, 15000)
	setDefault(&cfg.Relay.PongTimeoutMs, 3000)
	setDefault(&cfg.Relay.MissedPongTolerance, 2)
	setDefault(&cfg.Relay.RetryLogIntervalMs, 30000)
	setDefault(&cfg.Relay.HandshakeTimeoutMs, 5000)
	setDefault(&cfg.Relay.StatusIntervalMs, 2000)
	setDefault(&cfg.Relay.HeartbeatIntervalMs, 5000)

	setDefault(&cfg.PeerTimeoutMs, 5000)
	setDefaultStr(&cfg.Radio.Driver, "serial")
	setDefaultStr(&cfg.Radio.Port, "/dev/ttyUSB0")
	setDefault(&cfg.Radio.BaudRate, 115200)
	setDefault(&cfg.Radio.PeerTableSize, 20)

	setDefaultStr(&cfg.DDNamespace, "pai.")
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.Relay.Host == "" {
		problems = append(problems, "relay.host is required")
	}
	if cfg.Radio.Driver != "serial" && cfg.Radio.Driver != "stub" {
		problems = append(problems, fmt.Sprintf("radio.driver %q must be serial or stub", cfg.Radio.Driver))
	}

	roles := map[model.Role]string{}
	addrs := map[model.PeerAddr]model.Role{}
	for i, p := range cfg.Peers {
		if !p.Role.Valid() {
			problems = append(problems, fmt.Sprintf("peers[%d]: unknown role %q", i, p.Role))
			continue
		}
		if other, exists := roles[p.Role]; exists {
			problems = append(problems, fmt.Sprintf("peers[%d]: role %s already assigned to %s", i, p.Role, other))
			continue
		}
		roles[p.Role] = p.Address

		addr, err := model.ParsePeerAddr(p.Address)
		if err != nil {
			problems = append(problems, fmt.Sprintf("peers[%d]: %v", i, err))
			continue
		}
		if other, exists := addrs[addr]; exists {
			problems = append(problems, fmt.Sprintf("peers[%d]: address %s already used by %s", i, addr, other))
			continue
		}
		addrs[addr] = p.Role
	}
	if len(cfg.Peers) > cfg.Radio.PeerTableSize {
		problems = append(problems, fmt.Sprintf("%d peers configured but the radio holds %d", len(cfg.Peers), cfg.Radio.PeerTableSize))
	}
	if cfg.Relay.PongTimeoutMs >= cfg.Relay.PingIntervalMs {
		problems = append(problems, "relay.pong_timeout_ms must be shorter than relay.ping_interval_ms")
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (cfg *Config) ConnectTimeout() time.Duration   { return ms(cfg.ConnectTimeoutMs) }
func (cfg *Config) ConnectPoll() time.Duration      { return ms(cfg.ConnectPollMs) }
func (cfg *Config) TickInterval() time.Duration     { return ms(cfg.TickIntervalMs) }
func (cfg *Config) PortalCloseDelay() time.Duration { return ms(cfg.PortalCloseDelayMs) }
func (cfg *Config) PeerTimeout() time.Duration      { return ms(cfg.PeerTimeoutMs) }

func (r Relay) ReconnectInterval() time.Duration { return ms(r.ReconnectIntervalMs) }
func (r Relay) PingInterval() time.Duration      { return ms(r.PingIntervalMs) }
func (r Relay) PongTimeout() time.Duration       { return ms(r.PongTimeoutMs) }
func (r Relay) RetryLogInterval() time.Duration  { return ms(r.RetryLogIntervalMs) }
func (r Relay) HandshakeTimeout() time.Duration  { return ms(r.HandshakeTimeoutMs) }
func (r Relay) StatusInterval() time.Duration    { return ms(r.StatusIntervalMs) }
func (r Relay) HeartbeatInterval() time.Duration { return ms(r.HeartbeatIntervalMs) }
