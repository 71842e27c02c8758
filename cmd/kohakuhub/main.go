// Command kohakuhub runs the HuggingFace-compatible repository service: the
// HTTP API server, the background garbage collector, and one-off
// maintenance tasks (schema migration, quota recomputation), all driven by
// the same Cobra command tree and Viper-layered configuration pattern used
// throughout this module.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfgFile holds the path to an explicit config file passed via --config.
// When unset, config.Load falls back to KOHAKU_-prefixed environment
// variables only.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kohakuhub",
	Short: "a HuggingFace-Hub-compatible repository service",
	Long: `kohakuhub serves a HuggingFace-Hub-wire-compatible API backed by a
LakeFS-like version store and S3-compatible object storage, with
content-addressed LFS blobs, dual private/public quota accounting, and a
read-only Git Smart HTTP bridge.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	viper.BindPFlag("config_file", rootCmd.PersistentFlags().Lookup("config"))
}

// initConfig locates an implicit config file at ~/.kohakuhub.yaml when
// --config was not given, mirroring cli/root.go's home-directory search.
// config.Load still does its own explicit-path reading; this only fills in
// cfgFile so Load has something to read.
func initConfig() {
	viper.SetEnvPrefix("KOHAKU")
	viper.AutomaticEnv()

	if cfgFile != "" {
		return
	}
	home, err := homedir.Dir()
	if err != nil {
		return
	}
	candidate := filepath.Join(home, ".kohakuhub.yaml")
	if _, err := os.Stat(candidate); err == nil {
		cfgFile = candidate
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
