package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Proton-105/protrader-agent/internal/agent"
	"github.com/Proton-105/protrader-agent/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the agent configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a configuration file",
	Long:  `Decodes the file with every default applied and runs the validation rules. With no argument the --config file is checked.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if len(args) == 1 {
			path = args[0]
		}

		if path == "" {
			if _, _, err := config.Load(""); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
		} else {
			// #nosec G304: the path is given on the command line
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if _, err := agent.ValidateYAML(string(data)); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
