package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vormadev/assetgraph/config"
	"github.com/vormadev/assetgraph/kit/colorlog"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "assetgraph",
	Short: "Extract chunk graphs and resolve the assets each page needs",
	Long: `assetgraph turns bundler output into a compact chunks map and answers,
for a set of matched routes, which script and style files the page must load.

Settings come from --config (JSON or YAML), a .env file and ASSETGRAPH_*
environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = colorlog.New("assetgraph", colorlog.Options{Level: colorlog.ParseLevel(logLevel)})

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(extractCmd, bundleCmd, resolveCmd, stylesCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
