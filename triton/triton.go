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

// Package triton runs a Triton Inference Server in a disposable container
// and blocks until the server reports ready.
//
//	err := triton.Run(ctx, eng, func(ctx context.Context, c *triton.Container) error {
//	    url, err := c.URL(ctx, triton.PortHTTP)
//	    ...
//	}, triton.WithGPUs(false), triton.WithVolumeMapping(models, "/models", "ro"))
package triton

import (
	"fmt"
	"maps"
	"slices"

	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/google/shlex"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ogvalt/triton-testcontainer/command"
	"github.com/ogvalt/triton-testcontainer/config"
	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/errors"
	"github.com/ogvalt/triton-testcontainer/health"
	"github.com/ogvalt/triton-testcontainer/retry"
)

// Well-known Triton ports inside the container.
const (
	HTTPPort    = 8000
	GRPCPort    = 8001
	MetricsPort = 8002
)

// Container defaults.
const (
	DefaultRepository = "nvcr.io/nvidia/tritonserver"
	DefaultTag        = "24.01-py3"
	DefaultName       = "tritonserver"
)

// State is the lifecycle state of a Container.
type State int

const (
	StateConfigured State = iota
	StateStarting
	StateReady
	StateStopped
	StateStartFailed
	StateNeverReady
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateStartFailed:
		return "start-failed"
	case StateNeverReady:
		return "never-ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Container is a Triton server container. It is not safe for concurrent use.
type Container struct {
	engine  engine.Client
	checker health.Checker
	policy  retry.Policy

	repository   string
	tag          string
	name         string
	command      string
	volumes      []VolumeMapping
	gpus         bool
	env          map[string]string
	labels       map[string]string
	shmSize      int64
	platform     string
	hostOverride string
	err          error

	image       reference.Named
	args        []string
	ociPlatform *ocispec.Platform

	id    string
	state State
}

// Option configures a Container.
type Option func(*Container)

// WithImage sets the image repository and tag. An empty tag means latest.
func WithImage(repository, tag string) Option {
	return func(c *Container) {
		c.repository = repository
		c.tag = tag
	}
}

// WithName sets the container name. An empty name lets the engine pick one.
func WithName(name string) Option {
	return func(c *Container) {
		c.name = name
	}
}

// WithCommand sets the launch command line. It is split with shell quoting
// rules.
func WithCommand(cmd string) Option {
	return func(c *Container) {
		c.command = cmd
	}
}

// WithCommandOptions renders opts as the launch command.
func WithCommandOptions(opts command.Options) Option {
	return func(c *Container) {
		cmd, err := opts.Build()
		if err != nil {
			c.setErr(errors.Wrap("build server command", "", err))
			return
		}
		c.command = cmd
	}
}

// WithVolumeMapping bind-mounts host at containerPath. An empty mode
// defaults to read-only.
func WithVolumeMapping(host, containerPath, mode string) Option {
	return func(c *Container) {
		c.volumes = append(c.volumes, VolumeMapping{Host: host, Container: containerPath, Mode: mode})
	}
}

// WithVolumes appends parsed volume mappings.
func WithVolumes(volumes ...VolumeMapping) Option {
	return func(c *Container) {
		c.volumes = append(c.volumes, volumes...)
	}
}

// WithGPUs requests all GPUs when enabled. GPUs are requested by default.
func WithGPUs(enabled bool) Option {
	return func(c *Container) {
		c.gpus = enabled
	}
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(c *Container) {
		maps.Copy(c.env, env)
	}
}

// WithLabels adds container labels.
func WithLabels(labels map[string]string) Option {
	return func(c *Container) {
		maps.Copy(c.labels, labels)
	}
}

// WithShmSize sets /dev/shm size in bytes. Zero keeps the engine default.
func WithShmSize(bytes int64) Option {
	return func(c *Container) {
		c.shmSize = bytes
	}
}

// WithPlatform selects the image platform, such as "linux/amd64".
func WithPlatform(platform string) Option {
	return func(c *Container) {
		c.platform = platform
	}
}

// WithHealthClient replaces the readiness checker.
func WithHealthClient(checker health.Checker) Option {
	return func(c *Container) {
		c.checker = checker
	}
}

// WithReadinessPolicy replaces the readiness retry policy. When
// p.Retryable is empty the health client's not-ready and connection-closed
// errors are retried.
func WithReadinessPolicy(p retry.Policy) Option {
	return func(c *Container) {
		c.policy = p
	}
}

// WithHostOverride sets the address used to reach published ports instead
// of the one derived from the daemon host.
func WithHostOverride(host string) Option {
	return func(c *Container) {
		c.hostOverride = host
	}
}

// New validates the options and returns a Container in StateConfigured.
// Nothing is sent to the engine until Start.
func New(eng engine.Client, opts ...Option) (*Container, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine client is required")
	}

	c := &Container{
		engine:     eng,
		repository: DefaultRepository,
		tag:        DefaultTag,
		name:       DefaultName,
		command:    command.DefaultCommand,
		gpus:       true,
		env:        map[string]string{},
		labels:     map[string]string{},
		state:      StateConfigured,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.err != nil {
		return nil, c.err
	}

	if c.checker == nil {
		c.checker = health.NewClient()
	}
	if c.policy.Timeout == 0 {
		c.policy.Timeout = retry.DefaultTimeout
	}
	if len(c.policy.Retryable) == 0 {
		c.policy.Retryable = []error{health.ErrNotReady, health.ErrConnectionClosed}
	}

	if err := c.resolve(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromConfig returns options for the server and readiness sections of cfg.
func FromConfig(cfg config.Config) ([]Option, error) {
	s := cfg.Server
	opts := []Option{
		WithImage(s.Repository, s.Tag),
		WithName(s.Name),
		WithGPUs(s.GPUs),
		WithPlatform(s.Platform),
		WithHostOverride(cfg.Docker.HostOverride),
	}

	if s.ModelRepository != "" || len(s.LoadModels) > 0 {
		cmdOpts := command.Default()
		if s.ModelRepository != "" {
			cmdOpts.ModelRepository = []string{s.ModelRepository}
		}
		if s.ModelControlMode != "" {
			cmdOpts.ModelControlMode = s.ModelControlMode
		}
		cmdOpts.LoadModel = s.LoadModels
		opts = append(opts, WithCommandOptions(cmdOpts))
	}

	for _, spec := range s.Volumes {
		v, err := ParseVolumeMapping(spec)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithVolumes(v))
	}

	if s.ShmSize != "" {
		size, err := units.RAMInBytes(s.ShmSize)
		if err != nil {
			return nil, errors.Wrap("parse server shm size", s.ShmSize, err)
		}
		opts = append(opts, WithShmSize(size))
	}

	r := cfg.Readiness
	policy := retry.DefaultPolicy()
	if r.Timeout > 0 {
		policy.Timeout = r.Timeout
	}
	if r.InitialInterval > 0 && r.MaxInterval > 0 {
		policy.BackOff = retry.ExponentialBackOff(r.InitialInterval, r.MaxInterval)
	}
	opts = append(opts, WithReadinessPolicy(policy))

	return opts, nil
}

// ID returns the engine container ID, empty before Start.
func (c *Container) ID() string { return c.id }

// Name returns the requested container name.
func (c *Container) Name() string { return c.name }

// State returns the lifecycle state.
func (c *Container) State() State { return c.state }

// Image returns the image reference in its familiar form.
func (c *Container) Image() string { return reference.FamiliarString(c.image) }

// Command returns the launch command line.
func (c *Container) Command() string { return c.command }

// HealthClient returns the readiness checker.
func (c *Container) HealthClient() health.Checker { return c.checker }

func (c *Container) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// resolve validates the configured values and derives the engine inputs.
func (c *Container) resolve() error {
	ref := c.repository
	if c.tag != "" {
		ref += ":" + c.tag
	}
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return errors.Wrap("parse image reference", ref, err)
	}
	c.image = reference.TagNameOnly(named)

	args, err := shlex.Split(c.command)
	if err != nil {
		return errors.Wrap("split command", c.command, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("command must not be empty")
	}
	c.args = args

	for i, v := range c.volumes {
		bind, err := v.normalize()
		if err != nil {
			return err
		}
		c.volumes[i] = bind
	}

	if c.shmSize < 0 {
		return &errors.ValidationError{Field: "shm size", Value: fmt.Sprint(c.shmSize)}
	}

	if c.platform != "" {
		p, err := platforms.Parse(c.platform)
		if err != nil {
			return errors.Wrap("parse platform", c.platform, err)
		}
		c.ociPlatform = &p
	}
	return nil
}

// exposedPorts returns the three Triton ports as TCP ports.
func exposedPorts() []nat.Port {
	return []nat.Port{
		nat.Port(fmt.Sprintf("%d/tcp", HTTPPort)),
		nat.Port(fmt.Sprintf("%d/tcp", GRPCPort)),
		nat.Port(fmt.Sprintf("%d/tcp", MetricsPort)),
	}
}

// spec builds the engine create request. Every Triton port is published on
// an ephemeral host port.
func (c *Container) spec() (*container.Config, *container.HostConfig) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range exposedPorts() {
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "", HostPort: ""}}
	}

	env := make([]string, 0, len(c.env))
	for _, k := range slices.Sorted(maps.Keys(c.env)) {
		env = append(env, k+"="+c.env[k])
	}

	binds := make([]string, 0, len(c.volumes))
	for _, v := range c.volumes {
		binds = append(binds, v.String())
	}

	cfg := &container.Config{
		Image:        c.image.String(),
		Cmd:          c.args,
		Env:          env,
		Labels:       maps.Clone(c.labels),
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		Binds:        binds,
		PortBindings: bindings,
		ShmSize:      c.shmSize,
	}
	if c.gpus {
		hostCfg.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	return cfg, hostCfg
}
