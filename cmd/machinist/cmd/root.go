package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/machinist/pkg/logging"
)

var (
	cfgFile        string
	stateDir       string
	provisionerBin string
	outputFormat   string
	logLevel       string
	logJSON        bool
	otlpEndpoint   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "machinist",
	Short: "Reserve, use and reclaim remote dev/CI machines",
	Long: `machinist provisions cloud and bare-metal development machines, runs
remote command sessions against them over SSH, and sweeps orphaned machines
left behind by crashed controller processes.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.machinist/config)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "orphan record directory (default from config or $HOME/.machinist/records)")
	rootCmd.PersistentFlags().StringVar(&provisionerBin, "provisioner", "", "provisioning CLI binary (default from config or cloudctl)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP HTTP endpoint for traces (tracing disabled when empty)")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".machinist")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("machinist")

	viper.BindEnv("state_dir", "MACHINIST_STATE_DIR")
	viper.BindEnv("provisioner", "MACHINIST_PROVISIONER")
	viper.BindEnv("ssh_user", "MACHINIST_SSH_USER")
	viper.BindEnv("ssh_key", "MACHINIST_SSH_KEY")

	// Flag > config file > env > default
	if err := viper.ReadInConfig(); err == nil {
		if stateDir == "" && viper.GetString("state_dir") != "" {
			stateDir = viper.GetString("state_dir")
		}
		if provisionerBin == "" && viper.GetString("provisioner") != "" {
			provisionerBin = viper.GetString("provisioner")
		}
	}

	if stateDir == "" && viper.GetString("state_dir") != "" {
		stateDir = viper.GetString("state_dir")
	}
	if provisionerBin == "" && viper.GetString("provisioner") != "" {
		provisionerBin = viper.GetString("provisioner")
	}

	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		stateDir = filepath.Join(home, ".machinist", "records")
	}
	if provisionerBin == "" {
		provisionerBin = "cloudctl"
	}
}

// GetStateDir returns the orphan record directory
func GetStateDir() string {
	return stateDir
}

// GetProvisionerBin returns the provisioning CLI binary
func GetProvisionerBin() string {
	return provisionerBin
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// NewLogger builds the logger configured by the global flags
func NewLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(logLevel), logJSON)
}
