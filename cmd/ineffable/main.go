package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ineffable/internal/config"
	"ineffable/internal/render"
)

var flags struct {
	configPath string
	server     string
	backend    string
	logLevel   string
	color      string
}

var rootCmd = &cobra.Command{
	Use:           "ineffable",
	Short:         "Chat with a remote coding agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		if flags.backend != "" {
			cfg.Backend = flags.backend
		}
		if flags.logLevel != "" {
			cfg.LogLevel = flags.logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		loaded = cfg
		return config.SetLogLevel(cfg.LogLevel, cmd.ErrOrStderr())
	},
}

// loaded is the configuration after flag overrides
var loaded *config.Config

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (.yaml or .toml)")
	pf.StringVarP(&flags.server, "server", "s", "", "server URL or saved server name")
	pf.StringVar(&flags.backend, "backend", "", "backend protocol: native or opencode")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.color, "color", render.ColorAuto, "auto, always or never")

	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newNewCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newServersCmd())
}

func renderColor(cmd *cobra.Command) (bool, error) {
	return render.UseColor(flags.color, cmd.OutOrStdout())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ineffable: %v\n", err)
		os.Exit(1)
	}
}
