package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "minicam",
		Short: "minicam - MJPEG camera server for small boards",
		Long: `minicam serves a camera as an endless MJPEG stream over HTTP.

Frames are pulled from the camera only as fast as the client reads them.

Features:
  • Native JPEG sensors or raw sensors with software transcoding
  • Test pattern source for boards without a camera
  • Joins Wi-Fi from credential files, or opens its own access point
  • Snapshot endpoint and JSON stats
  • Persistent YAML configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/minicam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 80)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
