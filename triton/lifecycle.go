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

package triton

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/errors"
	"github.com/ogvalt/triton-testcontainer/health"
	"github.com/ogvalt/triton-testcontainer/logging"
	"github.com/ogvalt/triton-testcontainer/retry"
)

// ErrNotStarted is returned by accessors that need a running container.
var ErrNotStarted = stderrors.New("container has not been started")

// Start creates and starts the container, then probes the HTTP health
// endpoint until the server is ready.
//
// Engine failures are returned immediately and leave the container in
// StateStartFailed. Only the readiness probe is retried: not-ready answers
// and transient connection errors lead to another attempt until the
// readiness policy times out, which leaves StateNeverReady and returns a
// *retry.TimeoutError. Call Stop to remove the container in either case.
func (c *Container) Start(ctx context.Context) error {
	if c.state != StateConfigured {
		return fmt.Errorf("cannot start container %s in state %s", c.name, c.state)
	}
	c.state = StateStarting

	cfg, hostCfg := c.spec()
	logging.InfoContext(ctx, "Starting container %s from %s", c.name, c.Image())
	logging.DebugContext(ctx, "Container command: %s", c.command)

	resp, err := c.engine.ContainerCreate(ctx, cfg, hostCfg, nil, c.ociPlatform, c.name)
	if err != nil {
		c.state = StateStartFailed
		return errors.Wrap("create container", c.name, err)
	}
	c.id = resp.ID
	for _, w := range resp.Warnings {
		logging.WarnContext(ctx, "Engine warning for %s: %s", c.name, w)
	}

	if err := c.engine.ContainerStart(ctx, c.id, container.StartOptions{}); err != nil {
		c.state = StateStartFailed
		return errors.Wrap("start container", c.name, err)
	}

	if err := c.waitReady(ctx); err != nil {
		return err
	}

	c.state = StateReady
	logging.InfoContext(ctx, "Container %s is ready", c.name)
	return nil
}

func (c *Container) waitReady(ctx context.Context) error {
	addr, err := c.URL(ctx, PortHTTP)
	if err != nil {
		c.state = StateStartFailed
		return err
	}
	baseURL := "http://" + addr

	p := c.policy
	if p.OnRetry == nil {
		p.OnRetry = func(attempt int, err error, wait time.Duration) {
			logging.DebugContext(ctx, "Readiness probe %d for %s failed: %v (next in %s)", attempt, baseURL, err, wait)
		}
	}

	err = retry.Do(ctx, p, func(ctx context.Context) error {
		ready, err := c.checker.IsServerReady(ctx, baseURL)
		if err != nil {
			return err
		}
		if !ready {
			return health.ErrNotReady
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, retry.ErrTimeout) {
			c.state = StateNeverReady
		} else {
			c.state = StateStartFailed
		}
		return err
	}
	return nil
}

// Stop stops and removes the container together with its anonymous
// volumes. It is a no-op when nothing was created or the container is
// already stopped.
func (c *Container) Stop(ctx context.Context) error {
	if c.state == StateStopped {
		return nil
	}
	if c.id == "" {
		c.state = StateStopped
		return nil
	}

	logging.DebugContext(ctx, "Stopping container %s (%s)", c.name, c.id)

	var errs []error
	if err := c.engine.ContainerStop(ctx, c.id, container.StopOptions{}); err != nil {
		errs = append(errs, errors.Wrap("stop container", c.name, err))
	}
	if err := c.engine.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		errs = append(errs, errors.Wrap("remove container", c.name, err))
		return stderrors.Join(errs...)
	}

	c.state = StateStopped
	if len(errs) > 0 {
		logging.WarnContext(ctx, "Container %s removed after stop failure: %v", c.name, errs[0])
	}
	return nil
}

// Run creates a container from opts, starts it, calls fn and always stops
// the container afterwards, even when Start fails or fn panics. A stop
// error is returned only when nothing else failed.
func Run(ctx context.Context, eng engine.Client, fn func(context.Context, *Container) error, opts ...Option) (err error) {
	c, err := New(eng, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if stopErr := c.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}

// Logs copies the container output so far, demultiplexed into stdout and
// stderr.
func (c *Container) Logs(ctx context.Context, stdout, stderr io.Writer) error {
	return c.copyLogs(ctx, stdout, stderr, false)
}

// FollowLogs streams the container output until the container exits or ctx
// is done.
func (c *Container) FollowLogs(ctx context.Context, stdout, stderr io.Writer) error {
	err := c.copyLogs(ctx, stdout, stderr, true)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Container) copyLogs(ctx context.Context, stdout, stderr io.Writer, follow bool) error {
	if c.id == "" {
		return ErrNotStarted
	}

	rc, err := c.engine.ContainerLogs(ctx, c.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return errors.Wrap("read container logs", c.name, err)
	}
	defer func() { _ = rc.Close() }()

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return errors.Wrap("demultiplex container logs", c.name, err)
	}
	return nil
}
