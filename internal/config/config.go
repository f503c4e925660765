// Package config holds the settings of a sync session.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/19Mahmoud19/joplin/internal/driver"
	"github.com/19Mahmoud19/joplin/internal/driver/s3driver"
	"github.com/19Mahmoud19/joplin/internal/driver/serverdriver"
	"github.com/19Mahmoud19/joplin/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultProfileDir  = filepath.Join(home, ".config", "joplinsync")
	DefaultConfigPath  = filepath.Join(DefaultProfileDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultProfileDir, "logs", "joplinsync.log")
)

const (
	DefaultBasePath   = "root:/Apps/Joplin"
	DefaultClientType = "cli"
	DefaultLockTTL    = 30 * time.Second
	DefaultRetryDelay = 500 * time.Millisecond
)

type TargetType string

const (
	TargetServer     TargetType = "server"
	TargetS3         TargetType = "s3"
	TargetFilesystem TargetType = "filesystem"
	TargetMemory     TargetType = "memory"
)

type Config struct {
	Path       string `mapstructure:"-"`
	ProfileDir string `mapstructure:"profile_dir"`
	ClientType string `mapstructure:"client_type"`
	// ClientID defaults to an id derived from the machine.
	ClientID string `mapstructure:"client_id"`
	// SyncVersion overrides the sync target version the client supports.
	SyncVersion int `mapstructure:"sync_version"`

	Target TargetConfig `mapstructure:"target"`
	Lock   LockConfig   `mapstructure:"lock"`
	Delta  DeltaConfig  `mapstructure:"delta"`
}

type TargetConfig struct {
	Type       TargetType                `mapstructure:"type"`
	BasePath   string                    `mapstructure:"base_path"`
	RetryDelay time.Duration             `mapstructure:"retry_delay"`
	Server     serverdriver.ClientConfig `mapstructure:"server"`
	S3         s3driver.Config           `mapstructure:"s3"`
	Filesystem FilesystemConfig          `mapstructure:"filesystem"`
}

type FilesystemConfig struct {
	Root string `mapstructure:"root"`
}

type LockConfig struct {
	TTL                 time.Duration `mapstructure:"ttl"`
	RefreshBetweenSteps bool          `mapstructure:"refresh_between_steps"`
}

type DeltaConfig struct {
	PageLimit int      `mapstructure:"page_limit"`
	Ignore    []string `mapstructure:"ignore"`
}

// Default returns a config for the in-memory target, mostly useful for tests.
func Default() *Config {
	return &Config{
		ProfileDir: DefaultProfileDir,
		ClientType: DefaultClientType,
		Target: TargetConfig{
			Type:       TargetMemory,
			BasePath:   DefaultBasePath,
			RetryDelay: DefaultRetryDelay,
		},
		Lock: LockConfig{
			TTL:                 DefaultLockTTL,
			RefreshBetweenSteps: true,
		},
	}
}

// Validate fills in defaults, normalizes paths and checks the target settings.
func (c *Config) Validate() error {
	var err error

	if c.ProfileDir == "" {
		c.ProfileDir = DefaultProfileDir
	}
	if c.ProfileDir, err = utils.ResolvePath(c.ProfileDir); err != nil {
		return fmt.Errorf("profile dir: %w", err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.ClientType == "" {
		c.ClientType = DefaultClientType
	}
	if strings.ContainsAny(c.ClientType+c.ClientID, "_/:") {
		return errors.New("client type and id must not contain '_', '/' or ':'")
	}
	if c.SyncVersion < 0 {
		return fmt.Errorf("sync version must not be negative, got %d", c.SyncVersion)
	}

	if c.Lock.TTL == 0 {
		c.Lock.TTL = DefaultLockTTL
	} else if c.Lock.TTL < time.Second {
		return fmt.Errorf("lock ttl too short: %s", c.Lock.TTL)
	}
	if c.Delta.PageLimit < 0 {
		return fmt.Errorf("delta page limit must not be negative, got %d", c.Delta.PageLimit)
	}

	return c.Target.validate()
}

func (t *TargetConfig) validate() error {
	if t.BasePath == "" {
		t.BasePath = DefaultBasePath
	}
	if _, _, err := driver.SplitPath(t.BasePath, driver.Capabilities{SpecialRoots: []string{driver.DefaultRoot}}); err != nil {
		return fmt.Errorf("base path: %w", err)
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = DefaultRetryDelay
	}

	switch t.Type {
	case TargetServer:
		if err := t.Server.Validate(); err != nil {
			return fmt.Errorf("server target: %w", err)
		}
	case TargetS3:
		if err := t.S3.Validate(); err != nil {
			return fmt.Errorf("s3 target: %w", err)
		}
	case TargetFilesystem:
		if t.Filesystem.Root == "" {
			return errors.New("filesystem target: root missing")
		}
		root, err := utils.ResolvePath(t.Filesystem.Root)
		if err != nil {
			return fmt.Errorf("filesystem target: %w", err)
		}
		t.Filesystem.Root = root
	case TargetMemory:
	case "":
		return errors.New("target type missing")
	default:
		return fmt.Errorf("unknown target type %q", t.Type)
	}
	return nil
}

// StatePath is the delta state database of this profile.
func (c *Config) StatePath() string {
	return filepath.Join(c.ProfileDir, "state", "delta.db")
}
