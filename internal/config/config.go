package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultListenAddr     = ":8080"
	DefaultRootPath       = "/"
	DefaultMaxFileSize    = 10 << 30  // 10 GiB
	DefaultStreamChunk    = 256 << 10 // 256 KiB per buffered read
	DefaultSendfileChunk  = 64 << 20  // 64 MiB per sendfile call
	DefaultArchiveFlush   = 4 << 20   // 4 MiB buffered before a flush
	DefaultSignalRate     = 50.0      // signaling messages per second per peer
	DefaultSignalBurst    = 100
	DefaultSTUN           = "stun:stun.l.google.com:19302"
)

// Config holds the full server configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// RootPath is the highest directory clients may reach.
	RootPath string `yaml:"root_path"`

	// ForbiddenPaths are absolute prefixes that are never served,
	// even inside RootPath.
	ForbiddenPaths []string `yaml:"forbidden_paths"`

	// MaxFileSize rejects downloads of larger files before any
	// transfer state is built.
	MaxFileSize int64 `yaml:"max_file_size"`

	// StreamChunkSize is the buffer size of the portable copy loop.
	StreamChunkSize int `yaml:"stream_chunk_size"`

	// SendfileChunkSize bounds a single sendfile(2) call.
	SendfileChunkSize int64 `yaml:"sendfile_chunk_size"`

	// ArchiveFlushThreshold bounds buffered archive bytes before they
	// are flushed to the client.
	ArchiveFlushThreshold int `yaml:"archive_flush_threshold"`

	// STUNServers and TURNServers are handed to clients for WebRTC
	// connectivity. TURN entries may carry credentials as
	// "url|username|password".
	STUNServers []string `yaml:"stun_servers"`
	TURNServers []string `yaml:"turn_servers"`

	// SignalRate / SignalBurst limit inbound signaling messages per peer.
	SignalRate  float64 `yaml:"signal_rate"`
	SignalBurst int     `yaml:"signal_burst"`

	// ShowHidden lists dotfiles by default.
	ShowHidden bool `yaml:"show_hidden"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Options carries CLI flag overrides into Load.
type Options struct {
	ConfigFile string
	ListenAddr string
	RootPath   string
	LogLevel   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (FLUX_ prefix)
// 3. YAML config file
// 4. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ListenAddr:            DefaultListenAddr,
		RootPath:              DefaultRootPath,
		ForbiddenPaths:        []string{"/proc", "/sys", "/dev"},
		MaxFileSize:           DefaultMaxFileSize,
		StreamChunkSize:       DefaultStreamChunk,
		SendfileChunkSize:     DefaultSendfileChunk,
		ArchiveFlushThreshold: DefaultArchiveFlush,
		STUNServers:           []string{DefaultSTUN},
		SignalRate:            DefaultSignalRate,
		SignalBurst:           DefaultSignalBurst,
		LogLevel:              "info",
	}

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv("FLUX_CONFIG")
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	applyEnv(cfg)

	// Flags win over everything.
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if opts.RootPath != "" {
		cfg.RootPath = opts.RootPath
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLUX_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLUX_ROOT_PATH"); v != "" {
		cfg.RootPath = v
	}
	if v := os.Getenv("FLUX_FORBIDDEN_PATHS"); v != "" {
		cfg.ForbiddenPaths = splitList(v)
	}
	if v := os.Getenv("FLUX_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("FLUX_STUN_SERVERS"); v != "" {
		cfg.STUNServers = splitList(v)
	}
	if v := os.Getenv("FLUX_TURN_SERVERS"); v != "" {
		cfg.TURNServers = splitList(v)
	}
	if v := os.Getenv("FLUX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLUX_SHOW_HIDDEN"); v != "" {
		cfg.ShowHidden = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	info, err := os.Stat(c.RootPath)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path %s is not a directory", c.RootPath)
	}
	if c.StreamChunkSize <= 0 {
		return fmt.Errorf("stream_chunk_size must be positive, got %d", c.StreamChunkSize)
	}
	if c.SendfileChunkSize <= 0 {
		return fmt.Errorf("sendfile_chunk_size must be positive, got %d", c.SendfileChunkSize)
	}
	if c.ArchiveFlushThreshold <= 0 {
		return fmt.Errorf("archive_flush_threshold must be positive, got %d", c.ArchiveFlushThreshold)
	}
	return nil
}
