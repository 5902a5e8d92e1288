package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "zapret-daemon",
	Short: "Zapret daemon service",
	Long: `Zapret daemon is a background service that manages zapret operations.
It provides a control interface over a Unix domain socket.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: /etc/zapret/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before environment overrides")
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	if cfgFile == "" {
		return "/etc/zapret/config.yaml"
	}
	return cfgFile
}

// GetEnvFile returns the dotenv file path, if any.
func GetEnvFile() string {
	return envFile
}
