package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luciancaetano/wsclient/internal/logging"
)

const (
	Version = "0.3.0"

	// envPrefix prefixes every environment variable read by the CLI
	envPrefix = "wsclient"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "wsclient",
		Short: "persistent websocket client",
		Long: fmt.Sprintf(`wsclient (v%s)

Connects to a websocket server, logs in, keeps the session alive with
heartbeats and reconnects after failures. Lines read from stdin are sent
as business messages and answers on subscribed channels are printed.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return logging.Init(viper.GetString("log-level"))
		},
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wsclient",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wsclient v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(connectCmd)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// initConfig loads .env files and maps WSCLIENT_* variables onto flags
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
