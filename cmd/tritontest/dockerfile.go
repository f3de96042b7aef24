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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/dockerfile"
	"github.com/ogvalt/triton-testcontainer/triton"
)

// Dockerfile command options
type dockerfileOptions struct {
	syntax      string
	from        string
	platform    string
	env         []string
	labels      []string
	workdir     string
	copies      []string
	pip         []string
	runs        []string
	expose      bool
	healthcheck bool
	command     string
}

func newDockerfileCmd() *cobra.Command {
	opts := &dockerfileOptions{}

	cmd := &cobra.Command{
		Use:   "dockerfile",
		Short: "Render a Dockerfile for a Triton test image",
		Long: `Render a Dockerfile that extends the Triton server image. The result is
checked with the BuildKit Dockerfile parser before it is printed.

Examples:
  # Bake a model repository into the image
  tritontest dockerfile --copy models:/models --pip numpy \
    --command "tritonserver --model-repository=/models"

  # Pin the base image and platform
  tritontest dockerfile --from nvcr.io/nvidia/tritonserver:24.05-py3 --platform linux/amd64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDockerfile(cmd, *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.syntax, "syntax", "", "Dockerfile frontend image for the syntax directive")
	flags.StringVar(&opts.from, "from", "", "Base image (default is the configured server image)")
	flags.StringVar(&opts.platform, "platform", "", "Base image platform")
	flags.StringArrayVarP(&opts.env, "env", "e", nil, "Environment variable key=value (repeatable)")
	flags.StringArrayVar(&opts.labels, "label", nil, "Image label key=value (repeatable)")
	flags.StringVar(&opts.workdir, "workdir", "", "Working directory")
	flags.StringArrayVar(&opts.copies, "copy", nil, "Copy src:dest from the build context (repeatable)")
	flags.StringSliceVar(&opts.pip, "pip", nil, "Python packages to install (comma-separated)")
	flags.StringArrayVar(&opts.runs, "run", nil, "Shell command to run (repeatable)")
	flags.BoolVar(&opts.expose, "expose", true, "Expose the HTTP, gRPC and metrics ports")
	flags.BoolVar(&opts.healthcheck, "healthcheck", false, "Add a HEALTHCHECK against the readiness endpoint")
	flags.StringVar(&opts.command, "command", "", "Server command line for CMD")

	return cmd
}

func runDockerfile(cmd *cobra.Command, opts dockerfileOptions) error {
	if opts.from == "" {
		if cfg := configFromContext(cmd); cfg != nil {
			opts.from = cfg.Server.Image()
		}
	}

	formatter, err := outputFormatter(cmd)
	if err != nil {
		return err
	}

	text, err := renderDockerfile(opts)
	if err != nil {
		return err
	}
	return formatter.DisplayText("dockerfile", text)
}

// renderDockerfile assembles and parses the Dockerfile described by opts.
func renderDockerfile(opts dockerfileOptions) (string, error) {
	parser := cli.NewParser()
	env, err := parser.ParseEnv(opts.env)
	if err != nil {
		return "", err
	}
	labels, err := parser.ParseLabels(opts.labels)
	if err != nil {
		return "", err
	}

	b := dockerfile.New()
	if opts.syntax != "" {
		b.Syntax(opts.syntax)
	}
	b.From(dockerfile.FromArgs{Image: opts.from, Platform: opts.platform})
	if len(env) > 0 {
		b.Env(dockerfile.EnvArgs{Vars: env})
	}
	if len(labels) > 0 {
		b.Label(dockerfile.LabelArgs{Labels: labels})
	}
	if opts.workdir != "" {
		b.Workdir(dockerfile.WorkdirArgs{Path: opts.workdir})
	}
	for _, c := range opts.copies {
		src, dest, ok := strings.Cut(c, ":")
		if !ok {
			return "", fmt.Errorf("invalid copy %q (expected src:dest)", c)
		}
		b.Copy(dockerfile.CopyArgs{Sources: []string{src}, Dest: dest})
	}
	if len(opts.pip) > 0 {
		b.Run(dockerfile.RunArgs{Shell: "pip install --no-cache-dir " + strings.Join(opts.pip, " ")})
	}
	for _, r := range opts.runs {
		b.Run(dockerfile.RunArgs{Shell: r})
	}
	if opts.expose {
		b.Expose(dockerfile.ExposeArgs{Ports: []string{
			strconv.Itoa(triton.HTTPPort),
			strconv.Itoa(triton.GRPCPort),
			strconv.Itoa(triton.MetricsPort),
		}})
	}
	if opts.healthcheck {
		b.Healthcheck(dockerfile.HealthcheckArgs{
			Interval: 10 * time.Second,
			Timeout:  5 * time.Second,
			Retries:  3,
			Shell:    fmt.Sprintf("curl -fs localhost:%d/v2/health/ready || exit 1", triton.HTTPPort),
		})
	}
	if opts.command != "" {
		args, err := shlex.Split(opts.command)
		if err != nil {
			return "", fmt.Errorf("invalid command %q: %w", opts.command, err)
		}
		b.Cmd(dockerfile.CommandArgs{Exec: args})
	}

	if err := b.Validate(); err != nil {
		return "", err
	}
	return b.Build()
}
