package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/redhat-et/card-broker/pkg/config"
)

const serviceName = "broker-service"

// version is overridden at build time with -ldflags "-X ...cmd.version=".
var version = "dev"

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Credential broker for the card API",
	Long: `Broker Service holds the upstream client credentials, exchanges them for
bearer tokens and proxies card, user and balance requests so the browser
never sees a secret.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	v = config.InitViper(serviceName)
	config.BindFlags(rootCmd, v)
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}
