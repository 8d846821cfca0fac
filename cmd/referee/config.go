package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/refereehq/referee/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage referee configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		path := app.home.ConfigPath()
		if _, err := os.Stat(path); err == nil {
			return usageErrorf("config already exists at %s", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup()
		if err != nil {
			return err
		}
		settings := *app.settings
		settings.OpenAIAPIKey = redact(settings.OpenAIAPIKey)
		settings.MinerUAPIToken = redact(settings.MinerUAPIToken)
		settings.PaperSearchAPIKey = redact(settings.PaperSearchAPIKey)
		settings.PaperReadAPIKey = redact(settings.PaperReadAPIKey)

		data, err := yaml.Marshal(&settings)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<set>"
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
