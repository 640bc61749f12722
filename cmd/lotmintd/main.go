// lotmintd runs the lot mint service: a numbered-token sale where payment in
// a fungible asset buys tokens whose lot identifiers are assigned later by a
// randomness oracle.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:     "lotmintd",
	Short:   "Randomized numbered-token mint daemon",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lotmintd %s\n", rootCmd.Version)
	},
}

var configFlag string

func init() {
	cobra.OnInitialize(loadConfig)

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (default: ./lotmintd.yaml)")
	rootCmd.PersistentFlags().String("db", "lotmint.db", "Path to the SQLite state database")
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bumpVersionCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the optional config file and maps LOTMINT_* environment
// variables onto viper keys.
func loadConfig() {
	if configFlag != "" {
		viper.SetConfigFile(configFlag)
	} else {
		viper.SetConfigName("lotmintd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("LOTMINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFlag != "" {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
