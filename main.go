// Package main provides the entry point for the buildcache CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/buildcache/internal/cache"
	"github.com/dgnsrekt/buildcache/internal/config"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	cacheDir   string

	// cacheConfig is the merged configuration, set before any subcommand runs.
	cacheConfig cache.Config

	rootCmd = &cobra.Command{
		Use:   "buildcache",
		Short: "Inspect and manage a frontend build cache",
		Long: paragraph(
			fmt.Sprintf("\nInspect and manage the %s a frontend build keeps between runs.", keyword("on-disk cache")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

func validateOptions(cmd *cobra.Command) error {
	debug = viper.GetBool("debug")
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		log.Debug("Using configuration file", "path", configFile)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err //nolint:wrapcheck
	}
	cacheConfig = cfg
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write debug output to the log file")
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "dir", "d", "", "cache directory (overrides cache_dir)")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag(config.KeyDir, rootCmd.PersistentFlags().Lookup("dir"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd)
	rootCmd.AddCommand(cacheCommands()...)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "buildcache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "buildcache")}, dirs...)
	}

	if c := os.Getenv("BUILDCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("buildcache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("buildcache")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		configFile = used
		return
	}

	configFile = filepath.Join(dirs[0], "buildcache.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
