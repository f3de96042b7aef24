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
	"github.com/spf13/cobra"

	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/command"
)

func newCommandCmd() *cobra.Command {
	opts := &cli.CommandCLIOptions{}

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Render a tritonserver command line",
		Long: `Render a tritonserver command line from flags. Options are emitted in a
fixed order and unset options are omitted. Without any option the default
container command is printed.

Examples:
  # Default container command
  tritontest command

  # Explicit model control with two models
  tritontest command --model-repository /models --model-control-mode explicit \
    --load-model simple --load-model ensemble`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ID, "id", "", "Server identifier")
	flags.StringArrayVar(&opts.ModelRepository, "model-repository", nil, "Model repository path (repeatable)")
	flags.StringVar(&opts.ModelControlMode, "model-control-mode", "", "Model control mode (none, poll, explicit)")
	flags.StringArrayVar(&opts.LoadModel, "load-model", nil, "Model to load at startup (repeatable)")
	flags.IntVar(&opts.LogVerbose, "log-verbose", -1, "Verbose logging level")
	flags.StringVar(&opts.LogFormat, "server-log-format", "", "Server log format (default, ISO8601)")
	flags.BoolVar(&opts.StrictReadiness, "strict-readiness", false, "Report ready only when all models are ready")
	flags.BoolVar(&opts.ExitOnError, "exit-on-error", false, "Exit when a model fails to load")
	flags.BoolVar(&opts.DisableAutoCompleteConfig, "disable-auto-complete-config", false, "Disable model config auto-completion")
	flags.IntVar(&opts.HTTPPort, "http-port", -1, "HTTP port inside the container")
	flags.IntVar(&opts.GRPCPort, "grpc-port", -1, "gRPC port inside the container")
	flags.IntVar(&opts.MetricsPort, "metrics-port", -1, "Metrics port inside the container")
	flags.StringArrayVar(&opts.BackendConfig, "backend-config", nil, "Backend config <backend>,<setting>=<value> (repeatable)")

	return cmd
}

func runCommand(cmd *cobra.Command, opts cli.CommandCLIOptions) error {
	if err := cli.NewValidator().ValidateCommandOptions(opts); err != nil {
		return err
	}

	formatter, err := outputFormatter(cmd)
	if err != nil {
		return err
	}

	rendered, err := opts.ServerOptions().Build()
	if err != nil {
		return err
	}
	if rendered == command.Binary {
		rendered = command.DefaultCommand
	}

	return formatter.DisplayText("command", rendered)
}
