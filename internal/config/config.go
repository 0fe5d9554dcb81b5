// Package config loads the typed configuration every CORE constructor
// needs from its environment: data directory, transport bind addresses,
// segment sizing, fsync policy, and the background task intervals. It
// loads via github.com/spf13/viper (grounded on kumarlokesh-sysd/exercises/
// ai-code-assistant and k8s-controller, the only configuration libraries
// present anywhere in the retrieved pack). It does not parse CLI flags or
// implement subcommands; that outer surface is out of scope per spec.md §1.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// CompactionCodec names the codec the sealed-segment compactor uses.
type CompactionCodec string

const (
	CompactionNone   CompactionCodec = "none"
	CompactionGzip   CompactionCodec = "gzip"
	CompactionSnappy CompactionCodec = "snappy"
	CompactionLZ4    CompactionCodec = "lz4"
)

// Config is the full set of environment-provided knobs for the CORE.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	TCPAddr  string `mapstructure:"tcp_addr"`
	QUICAddr string `mapstructure:"quic_addr"`

	SegmentMaxSizeBytes uint32 `mapstructure:"segment_max_size_bytes"`
	EnforceFsync        bool   `mapstructure:"enforce_fsync"`
	AppendBufferSize    int    `mapstructure:"append_buffer_size"`

	RetentionCheckInterval time.Duration `mapstructure:"retention_check_interval"`
	OffsetFlushInterval    time.Duration `mapstructure:"offset_flush_interval"`
	StateLogFlushInterval  time.Duration `mapstructure:"state_log_flush_interval"`

	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`

	DefaultMessageExpiry time.Duration   `mapstructure:"default_message_expiry"`
	DefaultMaxTopicSize  uint64          `mapstructure:"default_max_topic_size"`
	CompactionCodec      CompactionCodec `mapstructure:"compaction_codec"`
	CompactionMinAge     time.Duration   `mapstructure:"compaction_min_age"`

	RootUsername string `mapstructure:"root_username"`
	RootPassword string `mapstructure:"root_password"`
}

// Default returns the conservative defaults used when no file/env value
// overrides a field.
func Default() Config {
	return Config{
		DataDir:  "./driftline-data",
		TCPAddr:  "0.0.0.0:8090",
		QUICAddr: "0.0.0.0:8091",

		SegmentMaxSizeBytes: 1 << 30, // 1GiB
		EnforceFsync:        false,
		AppendBufferSize:    8 << 20,

		RetentionCheckInterval: time.Minute,
		OffsetFlushInterval:    5 * time.Second,
		StateLogFlushInterval:  time.Second,

		SessionIdleTimeout: 15 * time.Minute,
		ShutdownGrace:      30 * time.Second,

		DefaultMessageExpiry: 0, // never
		DefaultMaxTopicSize:  0, // unbounded
		CompactionCodec:      CompactionNone,
		CompactionMinAge:     24 * time.Hour,

		RootUsername: "root",
		RootPassword: "root",
	}
}

// Load reads configuration from path (a YAML file, optional — a missing
// file falls back to defaults) and from DRIFTLINE_-prefixed environment
// variables, which always take precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DRIFTLINE")
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return cfg, errors.Wrap(err, "reading config file")
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("tcp_addr", cfg.TCPAddr)
	v.SetDefault("quic_addr", cfg.QUICAddr)
	v.SetDefault("segment_max_size_bytes", cfg.SegmentMaxSizeBytes)
	v.SetDefault("enforce_fsync", cfg.EnforceFsync)
	v.SetDefault("append_buffer_size", cfg.AppendBufferSize)
	v.SetDefault("retention_check_interval", cfg.RetentionCheckInterval)
	v.SetDefault("offset_flush_interval", cfg.OffsetFlushInterval)
	v.SetDefault("state_log_flush_interval", cfg.StateLogFlushInterval)
	v.SetDefault("session_idle_timeout", cfg.SessionIdleTimeout)
	v.SetDefault("shutdown_grace", cfg.ShutdownGrace)
	v.SetDefault("default_message_expiry", cfg.DefaultMessageExpiry)
	v.SetDefault("default_max_topic_size", cfg.DefaultMaxTopicSize)
	v.SetDefault("compaction_codec", string(cfg.CompactionCodec))
	v.SetDefault("compaction_min_age", cfg.CompactionMinAge)
	v.SetDefault("root_username", cfg.RootUsername)
	v.SetDefault("root_password", cfg.RootPassword)
}
