package main

import (
	"fmt"
	"os"

	"github.com/deemkeen/bookfed/util"
	"github.com/spf13/cobra"
)

var (
	configFlag string
	rootCmd    = &cobra.Command{
		Use:           util.Name,
		Short:         "ActivityPub federation for a BookWyrm compatible book server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the config file (defaults to the user config dir)")
	rootCmd.Version = util.GetVersion()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*util.AppConfig, error) {
	var (
		conf *util.AppConfig
		err  error
	)
	if configFlag != "" {
		conf, err = util.LoadConf(configFlag)
	} else {
		conf, err = util.ReadConf()
	}
	if err != nil {
		return nil, err
	}
	if err := util.SetupLogging(conf.Conf.LogLevel, conf.Conf.LogPretty); err != nil {
		return nil, err
	}
	return conf, nil
}
