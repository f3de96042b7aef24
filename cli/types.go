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

package cli

import (
	"time"

	"github.com/ogvalt/triton-testcontainer/command"
)

// BuildCLIOptions defines command-line options for the build command.
type BuildCLIOptions struct {
	// Files lists Dockerfile paths, one image per file.
	Files []string

	// Inline is a literal Dockerfile built instead of Files.
	Inline string

	// Context is the build context directory.
	Context string

	// Tags are applied to the built images, one per Dockerfile. A single
	// tag with several files is suffixed with the file index.
	Tags []string

	// BuildArgs specifies build arguments (unparsed key=value strings).
	BuildArgs []string

	// Labels specifies image labels (unparsed key=value strings).
	Labels []string

	// Platform selects the target platform, such as "linux/amd64".
	Platform string

	NoCache bool
	Pull    bool
	Reuse   bool

	// Remove deletes the built images once the command finishes, leaving
	// only the build check behind.
	Remove bool

	// Concurrency bounds the number of parallel builds.
	Concurrency int
}

// RunCLIOptions defines command-line options for the run command.
type RunCLIOptions struct {
	Repository string
	Tag        string
	Name       string
	GPUs       bool

	// Volumes specifies host:container[:mode] mappings.
	Volumes []string

	// Env specifies container environment (unparsed key=value strings).
	Env []string

	// Labels specifies container labels (unparsed key=value strings).
	Labels []string

	// Command overrides the server command line.
	Command string

	// Timeout bounds the readiness probe.
	Timeout time.Duration

	// FollowLogs streams server output until interrupted.
	FollowLogs bool
}

// CommandCLIOptions defines the server options the command subcommand
// renders. Integers below zero are unset.
type CommandCLIOptions struct {
	ID                        string
	ModelRepository           []string
	ModelControlMode          string
	LoadModel                 []string
	LogVerbose                int
	LogFormat                 string
	StrictReadiness           bool
	ExitOnError               bool
	DisableAutoCompleteConfig bool
	HTTPPort                  int
	GRPCPort                  int
	MetricsPort               int
	BackendConfig             []string
}

// ServerOptions converts the flags into command options. Unset flags stay
// unset so they render nothing.
func (o CommandCLIOptions) ServerOptions() command.Options {
	opts := command.Options{
		ID:               o.ID,
		ModelRepository:  o.ModelRepository,
		ModelControlMode: o.ModelControlMode,
		LoadModel:        o.LoadModel,
		LogFormat:        o.LogFormat,
		BackendConfig:    o.BackendConfig,

		DisableAutoCompleteConfig: o.DisableAutoCompleteConfig,
	}
	if o.LogVerbose >= 0 {
		opts.LogVerbose = command.Int(o.LogVerbose)
	}
	if o.StrictReadiness {
		opts.StrictReadiness = command.Bool(true)
	}
	if o.ExitOnError {
		opts.ExitOnError = command.Bool(true)
	}
	if o.HTTPPort >= 0 {
		opts.HTTPPort = command.Int(o.HTTPPort)
	}
	if o.GRPCPort >= 0 {
		opts.GRPCPort = command.Int(o.GRPCPort)
	}
	if o.MetricsPort >= 0 {
		opts.MetricsPort = command.Int(o.MetricsPort)
	}
	return opts
}

// BuildResult summarizes one image build.
type BuildResult struct {
	Tag      string `json:"tag" yaml:"tag"`
	ImageID  string `json:"image_id" yaml:"image_id"`
	Duration string `json:"duration" yaml:"duration"`
	Reused   bool   `json:"reused,omitempty" yaml:"reused,omitempty"`
}

// ContainerInfo describes a running Triton container.
type ContainerInfo struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Image   string `json:"image" yaml:"image"`
	Command string `json:"command" yaml:"command"`
	State   string `json:"state" yaml:"state"`
	HTTP    string `json:"http" yaml:"http"`
	GRPC    string `json:"grpc" yaml:"grpc"`
	Metrics string `json:"metrics" yaml:"metrics"`
}
