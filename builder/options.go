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

package builder

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/containerd/platforms"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-units"

	"github.com/ogvalt/triton-testcontainer/config"
	"github.com/ogvalt/triton-testcontainer/errors"
)

// Build context encodings.
const (
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
)

// Defaults matching the engine's own build defaults.
const (
	DefaultBuildTimeout = 30 * time.Second
	DefaultShmSize      = 64 * units.MiB
	DefaultNetworkMode  = "host"
)

// ContainerLimits constrains the intermediate containers of a build.
type ContainerLimits struct {
	// Memory limit in bytes
	Memory int64

	// MemorySwap is total memory plus swap in bytes; -1 disables swap limits
	MemorySwap int64

	// CPUShares is the relative CPU weight
	CPUShares int64

	// CPUSetCPUs lists the CPUs builds may run on (e.g. "0-3", "0,1")
	CPUSetCPUs string
}

// BuildOptions represents the engine build parameters for one image build.
// The zero value is valid; DefaultBuildOptions returns the engine defaults.
type BuildOptions struct {
	// Quiet suppresses the build log; Build then returns a nil *BuildLog
	Quiet bool

	// NoCache disables the build cache
	NoCache bool

	// Remove deletes intermediate containers after a successful build
	Remove bool

	// ForceRemove always deletes intermediate containers
	ForceRemove bool

	// Pull always attempts to pull a newer base image
	Pull bool

	// Timeout aborts the build when the engine sends nothing for this long.
	// Zero waits indefinitely.
	Timeout time.Duration

	// Encoding of the uploaded build context: EncodingGzip or EncodingIdentity
	Encoding string

	// BuildArgs are passed as --build-arg key=value
	BuildArgs map[string]string

	// ContainerLimits constrains intermediate build containers
	ContainerLimits ContainerLimits

	// ShmSize is the size of /dev/shm in bytes
	ShmSize int64

	// Labels are applied to the resulting image
	Labels map[string]string

	// CacheFrom lists images used as cache sources
	CacheFrom []string

	// Target selects a build stage
	Target string

	// NetworkMode for RUN instructions
	NetworkMode string

	// Squash squashes the new layers into one
	Squash bool

	// ExtraHosts maps host names to IP addresses inside build containers
	ExtraHosts map[string]string

	// Platform in os[/arch[/variant]] form
	Platform string

	// Isolation technology (Windows daemons only)
	Isolation string
}

// DefaultBuildOptions returns BuildOptions populated with the engine defaults.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Timeout:     DefaultBuildTimeout,
		Encoding:    EncodingGzip,
		ShmSize:     DefaultShmSize,
		NetworkMode: DefaultNetworkMode,
	}
}

// OptionsFromConfig starts from DefaultBuildOptions and applies the image
// section of the configuration. Sizes are human strings such as "2g".
func OptionsFromConfig(cfg config.ImageConfig) (BuildOptions, error) {
	opts := DefaultBuildOptions()

	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.Encoding != "" {
		opts.Encoding = cfg.Encoding
	}
	if cfg.NetworkMode != "" {
		opts.NetworkMode = cfg.NetworkMode
	}
	opts.NoCache = cfg.NoCache
	opts.Pull = cfg.Pull
	opts.Platform = cfg.Platform
	opts.ContainerLimits.CPUShares = cfg.CPUShares
	opts.ContainerLimits.CPUSetCPUs = cfg.CPUSetCPUs

	sizes := []struct {
		name  string
		value string
		dst   *int64
	}{
		{"shm_size", cfg.ShmSize, &opts.ShmSize},
		{"memory", cfg.Memory, &opts.ContainerLimits.Memory},
		{"memory_swap", cfg.MemorySwap, &opts.ContainerLimits.MemorySwap},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		if s.value == "-1" {
			*s.dst = -1
			continue
		}
		n, err := units.RAMInBytes(s.value)
		if err != nil {
			return BuildOptions{}, errors.Wrap("parse image."+s.name, s.value, err)
		}
		*s.dst = n
	}

	return opts, opts.Validate()
}

// Validate checks the fields the engine would otherwise reject late.
func (o BuildOptions) Validate() error {
	switch o.Encoding {
	case "", EncodingIdentity, EncodingGzip:
	default:
		return &errors.ValidationError{Field: "encoding", Value: o.Encoding, Allowed: []string{EncodingIdentity, EncodingGzip}}
	}

	if o.Timeout < 0 {
		return &errors.ValidationError{Field: "timeout", Value: o.Timeout.String()}
	}

	if o.ShmSize < 0 {
		return &errors.ValidationError{Field: "shm_size", Value: fmt.Sprint(o.ShmSize)}
	}

	if o.Platform != "" {
		if _, err := platforms.Parse(o.Platform); err != nil {
			return errors.Wrap("parse platform", o.Platform, err)
		}
	}

	return nil
}

// engineOptions translates o into the SDK's build options.
func (o BuildOptions) engineOptions(tags []string, dockerfile string) (build.ImageBuildOptions, error) {
	if err := o.Validate(); err != nil {
		return build.ImageBuildOptions{}, err
	}

	var platform string
	if o.Platform != "" {
		p, err := platforms.Parse(o.Platform)
		if err != nil {
			return build.ImageBuildOptions{}, errors.Wrap("parse platform", o.Platform, err)
		}
		platform = platforms.Format(p)
	}

	var buildArgs map[string]*string
	if len(o.BuildArgs) > 0 {
		buildArgs = make(map[string]*string, len(o.BuildArgs))
		for k, v := range o.BuildArgs {
			buildArgs[k] = &v
		}
	}

	var extraHosts []string
	for _, host := range slices.Sorted(maps.Keys(o.ExtraHosts)) {
		extraHosts = append(extraHosts, host+":"+o.ExtraHosts[host])
	}

	return build.ImageBuildOptions{
		Tags:           tags,
		SuppressOutput: o.Quiet,
		NoCache:        o.NoCache,
		Remove:         o.Remove,
		ForceRemove:    o.ForceRemove,
		PullParent:     o.Pull,
		Isolation:      container.Isolation(o.Isolation),
		CPUSetCPUs:     o.ContainerLimits.CPUSetCPUs,
		CPUShares:      o.ContainerLimits.CPUShares,
		Memory:         o.ContainerLimits.Memory,
		MemorySwap:     o.ContainerLimits.MemorySwap,
		NetworkMode:    o.NetworkMode,
		ShmSize:        o.ShmSize,
		Dockerfile:     dockerfile,
		BuildArgs:      buildArgs,
		Labels:         o.Labels,
		CacheFrom:      o.CacheFrom,
		Target:         o.Target,
		Squash:         o.Squash,
		ExtraHosts:     extraHosts,
		Platform:       platform,
		Version:        build.BuilderV1,
	}, nil
}
