package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/falk/switch-tools-go/pkg/keys"
)

var rootCmd = &cobra.Command{
	Use:           "switchtools",
	Short:         "Build and inspect Switch content archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("keys", "k", "", "path to prod.keys")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")

	viper.SetEnvPrefix("switchtools")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("keys", rootCmd.PersistentFlags().Lookup("keys"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "switchtools: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// loadKeys reads the keyfile named by --keys / SWITCHTOOLS_KEYS, falling
// back to the standard prod.keys locations.
func loadKeys(targetGeneration int) (*keys.KeySet, error) {
	if path := viper.GetString("keys"); path != "" {
		return keys.Load(path, targetGeneration)
	}
	return keys.LoadDefault(targetGeneration)
}
