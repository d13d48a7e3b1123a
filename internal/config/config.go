// Package config loads the engine's settings record from a YAML document.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root settings record. It is an external collaborator: the
// core components never read it directly, they are handed the sub-records
// they need through constructors.
type Config struct {
	Global     GlobalConfig     `mapstructure:"global" yaml:"global"`
	Servers    []ServerConfig   `mapstructure:"servers" yaml:"servers"`
	Posting    PostingConfig    `mapstructure:"posting" yaml:"posting"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Port       string           `mapstructure:"port" yaml:"port"`
}

// GlobalConfig carries the two directories every path in a run is resolved
// against. work_dir supports a literal "<base_dir>" substitution token.
type GlobalConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
}

// ServerConfig is one Server record (see spec §3): host/port/credentials,
// TLS and compression flags, group-join behavior, and an ordered list of
// backups consulted on miss or error.
type ServerConfig struct {
	ID            string         `mapstructure:"id" yaml:"id"`
	Host          string         `mapstructure:"host" yaml:"host"`
	Port          int            `mapstructure:"port" yaml:"port"`
	Username      string         `mapstructure:"username" yaml:"username"`
	Password      string         `mapstructure:"password" yaml:"password"`
	TLS           bool           `mapstructure:"tls" yaml:"tls"`
	Compress      bool           `mapstructure:"compress" yaml:"compress"`
	JoinGroup     string         `mapstructure:"join_group" yaml:"join_group"`
	UseHead       bool           `mapstructure:"use_head" yaml:"use_head"`
	UseBody       bool           `mapstructure:"use_body" yaml:"use_body"`
	MaxConnection int            `mapstructure:"max_connections" yaml:"max_connections"`
	Priority      int            `mapstructure:"priority" yaml:"priority"`
	RatePerSecond float64        `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Backups       []ServerConfig `mapstructure:"backups" yaml:"backups"`
}

// PostingConfig drives the PostFactory template and size-selection rules.
type PostingConfig struct {
	Poster         string   `mapstructure:"poster" yaml:"poster"`
	Subject        string   `mapstructure:"subject" yaml:"subject"`
	Groups         []string `mapstructure:"groups" yaml:"groups"`
	MaxArticleSize int64    `mapstructure:"max_article_size" yaml:"max_article_size"`
	MaxArchiveSize string   `mapstructure:"max_archive_size" yaml:"max_archive_size"`
}

// ProcessingConfig bounds the Manager's worker pool and batching behavior.
type ProcessingConfig struct {
	Threads         int    `mapstructure:"threads" yaml:"threads"`
	HeaderBatchSize int    `mapstructure:"header_batch_size" yaml:"header_batch_size"`
	RamDisk         string `mapstructure:"ramdisk" yaml:"ramdisk"`
}

// DatabaseConfig points the PostFactory's durable store at a driver.
// Engine is a DSN: "sqlite://<path>" or "postgres://...".
type DatabaseConfig struct {
	Engine string `mapstructure:"engine" yaml:"engine"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

// Load reads path (default "config.yaml"), overlays NEWSREAP_-prefixed
// environment variables, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your Usenet credentials.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("global.base_dir", ".")
	v.SetDefault("global.work_dir", "<base_dir>/work")
	v.SetDefault("posting.max_article_size", 750*1000)
	v.SetDefault("posting.max_archive_size", "auto")
	v.SetDefault("processing.threads", 4)
	v.SetDefault("processing.header_batch_size", 500)
	v.SetDefault("database.engine", "sqlite://staged.db")
	v.SetDefault("log.path", "newsreap.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("NEWSREAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Global.WorkDir = strings.ReplaceAll(cfg.Global.WorkDir, "<base_dir>", cfg.Global.BaseDir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}
		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}
		if s.TLS && s.Port == 119 {
			fmt.Println("Warning: TLS is enabled but port is set to 119 (standard non-TLS)")
		}
		if s.MaxConnection <= 0 {
			c.Servers[i].MaxConnection = 10
		}
		if s.Priority == 0 {
			c.Servers[i].Priority = 1
		}
	}

	if c.Processing.Threads <= 0 {
		c.Processing.Threads = 4
	}

	return nil
}
