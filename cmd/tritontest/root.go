/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/config"
	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/logging"
)

// Context key type for storing config
type configKeyType struct{}

// configKey is the context key for storing the config
var configKey = configKeyType{}

// configKeyAnnotation marks a flag as overriding a config key.
const configKeyAnnotation = "tritontest_config_key"

// newEngine connects to the Docker daemon. Tests replace it with a fake.
var newEngine = engine.NewClient

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tritontest",
		Short: "tritontest - Triton Inference Server test containers",
		Long: `tritontest renders tritonserver command lines and Dockerfiles, builds
test images and runs a Triton Inference Server container until it reports
ready.`,
		Version:           version,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}

	// Global persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file (default is $XDG_CONFIG_HOME/tritontest/config.yaml)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json, color)")
	pf.BoolP("quiet", "q", false, "Quiet mode - only show errors")
	pf.BoolP("verbose", "v", false, "Verbose mode - show debug output")
	pf.String("docker-host", "", "Docker daemon address (default from DOCKER_HOST)")
	pf.StringP("output", "o", cli.FormatText, "Output format (text, json, yaml)")
	bindConfigKey(pf, "log-level", "log.level")
	bindConfigKey(pf, "log-format", "log.format")
	bindConfigKey(pf, "docker-host", "docker.host")

	// Add subcommands
	rootCmd.AddCommand(newCommandCmd())
	rootCmd.AddCommand(newDockerfileCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// bindConfigKey marks flag name as the CLI override for a config key.
func bindConfigKey(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// configFromContext retrieves the config from the command context.
// Returns nil if no config is stored in context.
func configFromContext(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(*config.Config); ok {
		return cfg
	}
	return nil
}

// initConfig initializes configuration with proper precedence:
// CLI Flags > Environment Variables > Config File > Defaults
func initConfig(cmd *cobra.Command, args []string) error {
	// 1. Defaults, TRITONTEST_* variables and the config file
	cfgFile, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(cfgFile)
	if err != nil && !config.IsNotFoundError(err) {
		return err
	}

	// 2. Flags annotated with a config key override everything else
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("failed to bind %s flag: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 3. Logging with the final values
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := logging.Initialize(cfg.Log.Level, cfg.Log.Format, quiet, verbose); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// 4. Config and logger travel in the command context
	ctx := context.WithValue(cmd.Context(), configKey, cfg)
	ctx = logging.WithLogger(ctx, logging.Global())
	cmd.SetContext(ctx)

	return nil
}

// outputFormatter returns a formatter for the --output flag writing to the
// command's stdout.
func outputFormatter(cmd *cobra.Command) (*cli.OutputFormatter, error) {
	format, _ := cmd.Flags().GetString("output")
	if err := cli.NewValidator().ValidateOutputFormat(format); err != nil {
		return nil, err
	}
	formatter := cli.NewOutputFormatter(format)
	formatter.SetOutput(cmd.OutOrStdout())
	return formatter, nil
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}
