package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sofmeright/treebuild/src/logger"
)

const envPrefix = "TREEBUILD"

var (
	cfgFile string
	verbose bool

	// settings layers flags over TREEBUILD_* environment variables.
	settings = viper.New()
	log      zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "treebuild",
	Short: "Build trees of dependent container images",
	Long: `treebuild builds many container images whose base images depend on each other.

Parents are always built before their children, independent branches build
in parallel, and a failure skips only the images that depend on it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lc := logger.Config{
			Level:   settings.GetString("log-level"),
			Format:  settings.GetString("log-format"),
			NoColor: os.Getenv("NO_COLOR") != "",
		}
		lc.ApplyDefaults()
		if err := lc.Validate(); err != nil {
			return err
		}
		log = logger.New(lc)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .treebuild.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "stream build tool output to stderr")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", logger.FormatConsole, "log format: console or json")

	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	bindFlags(rootCmd, "log-level", "log-format")
}

// bindFlags binds the named flags of cmd to settings keys of the same name.
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if err := settings.BindPFlag(name, f); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// overridden reports whether a setting was given on the command line or in
// the environment, as opposed to falling back to its flag default. Only
// then does it take precedence over the config file.
func overridden(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	return ok
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
