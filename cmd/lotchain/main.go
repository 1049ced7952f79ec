package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "http://localhost:8080"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lotchain",
	Short: "Custody ledger CLI for agricultural lots",
	Long: `lotchain records and verifies hash-chained custody events for
agricultural lots.

The hash, append and validate commands work offline on JSON chain files.
login, record, lots, show and verify talk to a lotchaind server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".lotchain"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("lotchain")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = defaultServerURL
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.lotchain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "lotchaind base URL (default "+defaultServerURL+")")

	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(lotsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lotchain", version)
	},
}
