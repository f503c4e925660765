package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/19Mahmoud19/joplin/internal/config"
	"github.com/19Mahmoud19/joplin/internal/session"
	"github.com/19Mahmoud19/joplin/internal/version"
)

const (
	envPrefix      = "JOPLINSYNC"
	configFileName = "config"
)

// flag name -> config key
var flagKeys = map[string]string{
	"profile":      "profile_dir",
	"client-type":  "client_type",
	"client-id":    "client_id",
	"sync-version": "sync_version",
	"target":       "target.type",
	"base-path":    "target.base_path",
	"server-url":   "target.server.url",
	"session-id":   "target.server.session_id",
	"rate-limit":   "target.server.rate_limit",
	"fs-root":      "target.filesystem.root",
	"s3-bucket":    "target.s3.bucket",
	"s3-region":    "target.s3.region",
	"s3-endpoint":  "target.s3.endpoint",
	"s3-prefix":    "target.s3.prefix",
	"lock-ttl":     "lock.ttl",
	"page-limit":   "delta.page_limit",
}

type cli struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           version.AppName,
		Short:         "Inspect and maintain a Joplin sync target",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				logLevel.Set(slog.LevelDebug)
			}
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	defaults := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.String("env-file", "", "load environment variables from a dotenv file")
	flags.BoolP("verbose", "v", false, "log debug messages")
	flags.String("profile", config.DefaultProfileDir, "profile directory holding local state")
	flags.String("client-type", defaults.ClientType, "client type recorded in locks")
	flags.String("client-id", "", "client id recorded in locks (default: derived from the machine)")
	flags.Int("sync-version", 0, "sync target version supported by this client (default: latest)")
	flags.StringP("target", "t", string(defaults.Target.Type), "target type: server, s3, filesystem or memory")
	flags.String("base-path", defaults.Target.BasePath, "base directory of the sync target")
	flags.String("server-url", "", "sync server url")
	flags.String("session-id", "", "authenticated sync server session id")
	flags.String("rate-limit", "", "maximum sync server request rate, e.g. 20-S")
	flags.String("fs-root", "", "filesystem target root directory")
	flags.String("s3-bucket", "", "s3 bucket")
	flags.String("s3-region", "", "s3 region")
	flags.String("s3-endpoint", "", "s3 compatible endpoint url")
	flags.String("s3-prefix", "", "s3 key prefix")
	flags.Duration("lock-ttl", defaults.Lock.TTL, "lock time to live")
	flags.Int("page-limit", 0, "maximum changes per delta call (0: unlimited)")

	rootCmd.AddCommand(
		newStatusCmd(c),
		newCheckCmd(c),
		newMigrateCmd(c),
		newDeltaCmd(c),
		newLocksCmd(c),
		newWatchCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := c.v

	// variables already set in the environment win over the dotenv file
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file '%s': %w", envFile, err)
		}
	}

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(config.DefaultProfileDir)
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	setDefaults(v, config.Default())

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return cfg, nil
}

// setDefaults registers every key so environment variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("profile_dir", d.ProfileDir)
	v.SetDefault("client_type", d.ClientType)
	v.SetDefault("client_id", d.ClientID)
	v.SetDefault("sync_version", d.SyncVersion)

	v.SetDefault("target.type", string(d.Target.Type))
	v.SetDefault("target.base_path", d.Target.BasePath)
	v.SetDefault("target.retry_delay", d.Target.RetryDelay)
	v.SetDefault("target.server.url", "")
	v.SetDefault("target.server.session_id", "")
	v.SetDefault("target.server.timeout", 0)
	v.SetDefault("target.server.rate_limit", "")
	v.SetDefault("target.s3.bucket", "")
	v.SetDefault("target.s3.region", "")
	v.SetDefault("target.s3.access_key", "")
	v.SetDefault("target.s3.secret_key", "")
	v.SetDefault("target.s3.endpoint", "")
	v.SetDefault("target.s3.accelerate", false)
	v.SetDefault("target.s3.prefix", "")
	v.SetDefault("target.filesystem.root", "")

	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.refresh_between_steps", d.Lock.RefreshBetweenSteps)
	v.SetDefault("delta.page_limit", d.Delta.PageLimit)
	v.SetDefault("delta.ignore", []string{})
}

// withSession opens a session for the loaded config and closes it after fn.
func (c *cli) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := session.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(ctx, s)
}
