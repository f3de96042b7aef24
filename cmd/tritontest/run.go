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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/logging"
	"github.com/ogvalt/triton-testcontainer/triton"
)

// runFlags holds run options that have no config key.
type runFlags struct {
	env           []string
	labels        []string
	command       string
	follow        bool
	exitWhenReady bool
}

func newRunCmd() *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Triton server container until interrupted",
		Long: `Start a Triton Inference Server container, wait until it reports ready and
print its endpoints. The container is stopped and removed on exit, on
interrupt and when startup fails.

Examples:
  # Serve a local model repository
  tritontest run -V ./models:/models --model-repository /models --load-model simple

  # Smoke-test an image: exit as soon as the server is ready
  tritontest run --image localhost/triton-test --tag latest --exit-when-ready -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, *rf)
		},
	}

	flags := cmd.Flags()
	flags.String("image", "", "Server image repository")
	flags.String("tag", "", "Server image tag")
	flags.String("name", "", "Container name")
	flags.Bool("gpus", false, "Request all GPUs")
	flags.StringArrayP("volume", "V", nil, "Volume host:container[:ro|rw] (repeatable)")
	flags.String("model-repository", "", "Model repository path inside the container")
	flags.String("model-control-mode", "", "Model control mode (none, poll, explicit)")
	flags.StringArray("load-model", nil, "Model to load at startup (repeatable)")
	flags.String("shm-size", "", "Size of /dev/shm, e.g. 1g")
	flags.String("platform", "", "Image platform, e.g. linux/amd64")
	flags.Duration("timeout", 0, "Readiness timeout")
	flags.String("host-override", "", "Address used to reach published ports")
	bindConfigKey(flags, "image", "server.repository")
	bindConfigKey(flags, "tag", "server.tag")
	bindConfigKey(flags, "name", "server.name")
	bindConfigKey(flags, "gpus", "server.gpus")
	bindConfigKey(flags, "volume", "server.volumes")
	bindConfigKey(flags, "model-repository", "server.model_repository")
	bindConfigKey(flags, "model-control-mode", "server.model_control_mode")
	bindConfigKey(flags, "load-model", "server.load_models")
	bindConfigKey(flags, "shm-size", "server.shm_size")
	bindConfigKey(flags, "platform", "server.platform")
	bindConfigKey(flags, "timeout", "readiness.timeout")
	bindConfigKey(flags, "host-override", "docker.host_override")

	flags.StringArrayVarP(&rf.env, "env", "e", nil, "Environment variable key=value (repeatable)")
	flags.StringArrayVar(&rf.labels, "label", nil, "Container label key=value (repeatable)")
	flags.StringVar(&rf.command, "command", "", "Server command line, overrides the model flags")
	flags.BoolVar(&rf.follow, "follow", false, "Stream server logs to stderr")
	flags.BoolVar(&rf.exitWhenReady, "exit-when-ready", false, "Stop the container as soon as it is ready")

	return cmd
}

func runRun(cmd *cobra.Command, rf runFlags) error {
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}

	runOpts := cli.RunCLIOptions{
		Repository: cfg.Server.Repository,
		Tag:        cfg.Server.Tag,
		Name:       cfg.Server.Name,
		GPUs:       cfg.Server.GPUs,
		Volumes:    cfg.Server.Volumes,
		Env:        rf.env,
		Labels:     rf.labels,
		Command:    rf.command,
		Timeout:    cfg.Readiness.Timeout,
		FollowLogs: rf.follow,
	}
	if err := cli.NewValidator().ValidateRunOptions(runOpts); err != nil {
		return err
	}

	formatter, err := outputFormatter(cmd)
	if err != nil {
		return err
	}

	opts, err := triton.FromConfig(*cfg)
	if err != nil {
		return err
	}
	parser := cli.NewParser()
	env, err := parser.ParseEnv(runOpts.Env)
	if err != nil {
		return err
	}
	labels, err := parser.ParseLabels(runOpts.Labels)
	if err != nil {
		return err
	}
	opts = append(opts, triton.WithEnv(env), triton.WithLabels(labels))
	if runOpts.Command != "" {
		opts = append(opts, triton.WithCommand(runOpts.Command))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	return triton.Run(ctx, eng, func(ctx context.Context, c *triton.Container) error {
		info, err := containerInfo(ctx, c)
		if err != nil {
			return err
		}
		if err := formatter.DisplayContainer(info); err != nil {
			return err
		}
		if rf.exitWhenReady {
			return nil
		}

		logging.InfoContext(ctx, "Triton server %s is ready, press Ctrl+C to stop", c.Name())

		g, gctx := errgroup.WithContext(ctx)
		if runOpts.FollowLogs {
			g.Go(func() error {
				if err := c.FollowLogs(gctx, cmd.ErrOrStderr(), cmd.ErrOrStderr()); err != nil {
					return err
				}
				if gctx.Err() == nil {
					return fmt.Errorf("container %s exited", c.Name())
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
		return g.Wait()
	}, opts...)
}

// containerInfo describes a ready container and its published endpoints.
func containerInfo(ctx context.Context, c *triton.Container) (cli.ContainerInfo, error) {
	info := cli.ContainerInfo{
		ID:      c.ID(),
		Name:    c.Name(),
		Image:   c.Image(),
		Command: c.Command(),
		State:   c.State().String(),
	}

	endpoints := []struct {
		port triton.PortName
		dst  *string
	}{
		{triton.PortHTTP, &info.HTTP},
		{triton.PortGRPC, &info.GRPC},
		{triton.PortMetrics, &info.Metrics},
	}
	for _, e := range endpoints {
		url, err := c.URL(ctx, e.port)
		if err != nil {
			return cli.ContainerInfo{}, err
		}
		*e.dst = url
	}
	return info, nil
}
