// Command chainctl is a thin operator CLI over a local chain store:
// inspect the current head, force it to a different tipset, export a
// snapshot, or check that a set of blocks' message roots still validate.
// Mirrors the original implementation's `forest chain` subcommands
// (head / set-head / export / validate-blocks), generalizing the
// teacher's commands/ package convention of exposing store operations as
// CLI verbs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	logging "github.com/ipfs/go-log"
)

var (
	cfgFile string
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:           "chainctl",
	Short:         "Inspect and operate a local ember-chain store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chainctl:", err)
		os.Exit(1)
	}
}

func init() {
	defaultDataDir := "./ember-chain-data"
	if home, err := homedir.Dir(); err == nil {
		defaultDataDir = filepath.Join(home, ".ember-chain")
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.ember-chain.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "chain store data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level for all subsystems (debug, info, warn, error)")
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(setHeadCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateBlocksCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".ember-chain")
	}
	viper.SetEnvPrefix("EMBER_CHAIN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}

	if v := viper.GetString("data-dir"); v != "" {
		dataDir = v
	}

	level := viper.GetString("log-level")
	if level == "" {
		level = "info"
	}
	return logging.SetLogLevel("*", level)
}
