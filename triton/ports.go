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
	"fmt"
	"net"
	"strconv"

	"github.com/docker/go-connections/nat"

	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/errors"
)

// PortName selects one of the Triton endpoints.
type PortName string

const (
	PortHTTP    PortName = "http"
	PortGRPC    PortName = "grpc"
	PortMetrics PortName = "metrics"
)

// PortNames lists the accepted port names.
var PortNames = []string{string(PortHTTP), string(PortGRPC), string(PortMetrics)}

// Port returns the container port for name.
func (name PortName) Port() (int, error) {
	switch name {
	case PortHTTP:
		return HTTPPort, nil
	case PortGRPC:
		return GRPCPort, nil
	case PortMetrics:
		return MetricsPort, nil
	default:
		return 0, &errors.ValidationError{Field: "port name", Value: string(name), Allowed: PortNames}
	}
}

// HostAddress returns the host tests use to reach published ports.
func (c *Container) HostAddress() string {
	if c.hostOverride != "" {
		return c.hostOverride
	}
	return engine.HostAddress(c.engine.DaemonHost())
}

// MappedPort returns the host port published for the container TCP port.
func (c *Container) MappedPort(ctx context.Context, port int) (string, error) {
	if c.id == "" {
		return "", ErrNotStarted
	}

	p, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", errors.Wrap("parse port", strconv.Itoa(port), err)
	}

	info, err := c.engine.ContainerInspect(ctx, c.id)
	if err != nil {
		return "", errors.Wrap("inspect container", c.name, err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", c.name)
	}

	for _, binding := range info.NetworkSettings.Ports[p] {
		if binding.HostPort != "" {
			return binding.HostPort, nil
		}
	}
	return "", fmt.Errorf("port %s of container %s is not published", p, c.name)
}

// URL returns host:port for the named endpoint, without a scheme.
func (c *Container) URL(ctx context.Context, name PortName) (string, error) {
	port, err := name.Port()
	if err != nil {
		return "", err
	}
	hostPort, err := c.MappedPort(ctx, port)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(c.HostAddress(), hostPort), nil
}
