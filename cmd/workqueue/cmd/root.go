package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/workqueue/internal/common"
	commonconfig "github.com/armadaproject/workqueue/internal/common/config"
	"github.com/armadaproject/workqueue/internal/workqueue"
	"github.com/armadaproject/workqueue/internal/workqueue/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/workqueue"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "workqueue",
		SilenceUsage: true,
		Short:        "Work queue instance and administration",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		queueCmd(),
		cancelCmd(),
		priorityCmd(),
		resetCmd(),
		cleanupCmd(),
		monitorCmd(),
		deleteCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if _, err := common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}

// withInstance builds the queue instance from configuration, runs action against it and
// closes it.
func withInstance(action func(instance *workqueue.Instance) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if err := common.ConfigureLogLevel(config.LogLevel); err != nil {
		return err
	}
	instance, err := workqueue.NewInstance(config)
	if err != nil {
		return err
	}
	defer instance.Close()
	return action(instance)
}
