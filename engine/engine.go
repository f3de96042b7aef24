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

// Package engine is the narrow Docker Engine boundary used by the image
// builder and the container lifecycle wrapper.
package engine

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ogvalt/triton-testcontainer/errors"
	"github.com/ogvalt/triton-testcontainer/logging"
)

// Client defines the Docker operations needed to build images and run
// Triton containers. It allows tests to substitute a fake engine.
type Client interface {
	// Image operations
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ImageInspect(ctx context.Context, imageID string) (image.InspectResponse, error)

	// Container operations
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)

	// Daemon
	DaemonHost() string
	Ping(ctx context.Context) (types.Ping, error)

	// Lifecycle
	Close() error
}

// clientAdapter wraps the Docker SDK client to match Client. The SDK takes
// variadic options for ImageInspect while Client uses a fixed signature.
type clientAdapter struct {
	*dockerclient.Client
}

// ImageInspect adapts the SDK's variadic signature to Client.
func (a *clientAdapter) ImageInspect(ctx context.Context, imageID string) (image.InspectResponse, error) {
	return a.Client.ImageInspect(ctx, imageID)
}

// Wrap adapts an existing SDK client to Client.
func Wrap(c *dockerclient.Client) Client {
	return &clientAdapter{Client: c}
}

// NewClient connects to the Docker daemon described by the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH) and verifies the
// connection with a ping. An explicit host overrides DOCKER_HOST.
func NewClient(ctx context.Context, host string) (Client, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap("create Docker client", "", err)
	}

	ping, err := cli.Ping(ctx)
	if err != nil {
		_ = cli.Close()
		return nil, errors.Wrap("verify Docker connection", cli.DaemonHost(), err)
	}

	logging.DebugContext(ctx, "Connected to Docker daemon at %s (API %s, %s)", cli.DaemonHost(), ping.APIVersion, ping.OSType)
	return Wrap(cli), nil
}

// HostAddress returns the address tests should use to reach ports published
// by the daemon. Local sockets map to localhost; TCP daemons map to their
// host name.
func HostAddress(daemonHost string) string {
	u, err := dockerclient.ParseHostURL(daemonHost)
	if err != nil {
		return "localhost"
	}

	switch u.Scheme {
	case "tcp", "http", "https", "ssh":
		host := u.Host
		if i := strings.LastIndex(host, "@"); i >= 0 {
			host = host[i+1:]
		}
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host == "" {
			return "localhost"
		}
		return host
	default:
		return "localhost"
	}
}
