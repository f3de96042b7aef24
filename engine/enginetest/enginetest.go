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

// Package enginetest provides a configurable fake engine.Client for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ogvalt/triton-testcontainer/engine"
)

var _ engine.Client = (*Client)(nil)

// Client is an engine.Client whose methods delegate to the matching Func
// field when it is set and otherwise return a successful zero response.
type Client struct {
	ImageBuildFunc       func(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageRemoveFunc      func(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ImageInspectFunc     func(ctx context.Context, imageID string) (image.InspectResponse, error)
	ContainerCreateFunc  func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStartFunc   func(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspectFunc func(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStopFunc    func(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemoveFunc  func(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogsFunc    func(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	PingFunc             func(ctx context.Context) (types.Ping, error)

	// Host is returned by DaemonHost; empty means the default unix socket.
	Host string
}

func (c *Client) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	if c.ImageBuildFunc != nil {
		return c.ImageBuildFunc(ctx, buildContext, options)
	}
	_, _ = io.Copy(io.Discard, buildContext)
	return BuildResponse("sha256:0000000000000000000000000000000000000000000000000000000000000000"), nil
}

func (c *Client) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	if c.ImageRemoveFunc != nil {
		return c.ImageRemoveFunc(ctx, imageID, options)
	}
	return []image.DeleteResponse{{Deleted: imageID}}, nil
}

func (c *Client) ImageInspect(ctx context.Context, imageID string) (image.InspectResponse, error) {
	if c.ImageInspectFunc != nil {
		return c.ImageInspectFunc(ctx, imageID)
	}
	return image.InspectResponse{ID: imageID}, nil
}

func (c *Client) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if c.ContainerCreateFunc != nil {
		return c.ContainerCreateFunc(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{ID: "container-" + containerName}, nil
}

func (c *Client) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if c.ContainerStartFunc != nil {
		return c.ContainerStartFunc(ctx, containerID, options)
	}
	return nil
}

func (c *Client) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	if c.ContainerInspectFunc != nil {
		return c.ContainerInspectFunc(ctx, containerID)
	}
	return container.InspectResponse{}, nil
}

func (c *Client) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	if c.ContainerStopFunc != nil {
		return c.ContainerStopFunc(ctx, containerID, options)
	}
	return nil
}

func (c *Client) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if c.ContainerRemoveFunc != nil {
		return c.ContainerRemoveFunc(ctx, containerID, options)
	}
	return nil
}

func (c *Client) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	if c.ContainerLogsFunc != nil {
		return c.ContainerLogsFunc(ctx, containerID, options)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (c *Client) DaemonHost() string {
	if c.Host != "" {
		return c.Host
	}
	return "unix:///var/run/docker.sock"
}

func (c *Client) Ping(ctx context.Context) (types.Ping, error) {
	if c.PingFunc != nil {
		return c.PingFunc(ctx)
	}
	return types.Ping{APIVersion: "1.51", OSType: "linux"}, nil
}

func (c *Client) Close() error {
	return nil
}

// BuildResponse returns a build response whose body streams the given
// messages followed by the aux record carrying imageID.
func BuildResponse(imageID string, messages ...jsonmessage.JSONMessage) build.ImageBuildResponse {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for _, m := range messages {
		_ = enc.Encode(m)
	}
	aux := json.RawMessage(`{"ID":"` + imageID + `"}`)
	_ = enc.Encode(jsonmessage.JSONMessage{Aux: &aux})

	return build.ImageBuildResponse{
		Body:   io.NopCloser(strings.NewReader(sb.String())),
		OSType: "linux",
	}
}

// ErrorResponse returns a build response whose stream ends with a JSONError.
func ErrorResponse(message string, messages ...jsonmessage.JSONMessage) build.ImageBuildResponse {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for _, m := range messages {
		_ = enc.Encode(m)
	}
	_ = enc.Encode(jsonmessage.JSONMessage{
		Error:        &jsonmessage.JSONError{Code: 1, Message: message},
		ErrorMessage: message,
	})

	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(sb.String()))}
}
