package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/internal/config"
)

const apiKeySetting = "anthropic.api_key"

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Show the merged configuration.

Without arguments, prints every setting as YAML.
With one argument (a dotted key such as convergence.max_wait), prints that value.

Configuration is read from ~/.config/conductor/config.yaml, then from the
nearest .conductor.yaml, then from CONDUCTOR_* environment variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.Viper()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			if !v.IsSet(args[0]) {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			val := v.Get(args[0])
			if args[0] == apiKeySetting {
				val = config.MaskAPIKey(v.GetString(apiKeySetting))
			}
			fmt.Fprintln(out, val)
			return nil
		}

		settings := v.AllSettings()
		if a, ok := settings["anthropic"].(map[string]any); ok {
			key, _ := a["api_key"].(string)
			a["api_key"] = config.MaskAPIKey(key)
		}
		b, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		_, err = out.Write(b)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the merged configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if err := env.cfg.Validate(); err != nil {
			fmt.Fprintf(out, "%s\n%v\n", color.RedString("invalid configuration:"), err)
			return err
		}

		if env.cfg.Anthropic.Bedrock {
			fmt.Fprintf(out, "%s using AWS Bedrock (region %q)\n", color.GreenString("ok:"), env.cfg.Anthropic.AWSRegion)
			return nil
		}
		key, source, err := config.APIKey(env.cfg)
		if err == nil {
			err = config.ValidateAPIKey(key)
		}
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", color.YellowString("warning:"), err)
			return nil
		}
		fmt.Fprintf(out, "%s API key %s from %s\n", color.GreenString("ok:"), config.MaskAPIKey(key), source)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
