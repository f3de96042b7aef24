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

// Package command renders tritonserver command lines from structured options.
//
// Every option has a static entry in a declaration-ordered table that names
// its flag and its Kind; rendering dispatches on the Kind, never on the Go
// type of the value. Unset options contribute nothing:
//
//	cmd, err := command.Options{
//	    ModelRepository:  []string{"/a", "/b"},
//	    ModelControlMode: command.ModelControlExplicit,
//	    LoadModel:        []string{"x", "y"},
//	}.Build()
//	// tritonserver --model-repository=/a --model-repository=/b
//	//   --model-control-mode=explicit --load-model=x --load-model=y
package command

import (
	"fmt"
	"strings"
)

// Binary is the server executable every command line starts with.
const Binary = "tritonserver"

// Model control modes accepted by --model-control-mode.
const (
	ModelControlNone     = "none"
	ModelControlPoll     = "poll"
	ModelControlExplicit = "explicit"
)

// Log formats accepted by --log-format.
const (
	LogFormatDefault = "default"
	LogFormatISO8601 = "ISO8601"
)

// DefaultModelRepository is the in-container model repository used by the
// default container command.
const DefaultModelRepository = "/home"

var (
	// ModelControlModes lists the allowed --model-control-mode values.
	ModelControlModes = []string{ModelControlNone, ModelControlPoll, ModelControlExplicit}

	// LogFormats lists the allowed --log-format values.
	LogFormats = []string{LogFormatDefault, LogFormatISO8601}
)

// Options is the set of tritonserver settings a test can request.
//
// Value-carrying booleans and integers are pointers so that "unset" differs
// from false and 0; use Bool and Int to fill them. DisableAutoCompleteConfig
// is a presence flag: it renders as a bare --disable-auto-complete-config
// when true.
type Options struct {
	ID                        string
	ExitTimeoutSecs           *int
	LogVerbose                *int
	LogInfo                   *bool
	LogWarning                *bool
	LogError                  *bool
	LogFormat                 string
	LogFile                   string
	ModelStore                []string
	ModelRepository           []string
	ExitOnError               *bool
	DisableAutoCompleteConfig bool
	StrictModelConfig         *bool
	StrictReadiness           *bool
	ModelControlMode          string
	RepositoryPollSecs        *int
	LoadModel                 []string
	ModelLoadThreadCount      *int
	ModelLoadRetryCount       *int
	ModelNamespacing          *bool
	AllowHTTP                 *bool
	HTTPPort                  *int
	AllowGRPC                 *bool
	GRPCPort                  *int
	AllowMetrics              *bool
	AllowGPUMetrics           *bool
	MetricsPort               *int
	BackendDirectory          string
	BackendConfig             []string
}

// Bool returns a pointer to v for value-carrying boolean options.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v for integer options.
func Int(v int) *int { return &v }

// Default returns the options of the default container command: one model
// repository at DefaultModelRepository and explicit model control.
func Default() Options {
	return Options{
		ModelRepository:  []string{DefaultModelRepository},
		ModelControlMode: ModelControlExplicit,
	}
}

// DefaultCommand is Default rendered as a command line.
var DefaultCommand = MustBuild(Default())

// Build renders the command line. On a validation error it returns an empty
// string.
func (o Options) Build() (string, error) {
	args, err := o.Args()
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}

// Args renders the command as argv, starting with Binary.
func (o Options) Args() ([]string, error) {
	args := []string{Binary}
	for _, opt := range optionTable {
		flags, err := opt.render(opt.value(&o))
		if err != nil {
			return nil, err
		}
		args = append(args, flags...)
	}
	return args, nil
}

// Validate checks every set option against its declared domain.
func (o Options) Validate() error {
	_, err := o.Args()
	return err
}

// MustBuild is like Build but panics on error. It is intended for package
// level defaults built from constant options.
func MustBuild(o Options) string {
	cmd, err := o.Build()
	if err != nil {
		panic(fmt.Sprintf("command: %v", err))
	}
	return cmd
}

// FlagName converts a snake_case option name to its flag spelling.
func FlagName(option string) string {
	return strings.ReplaceAll(option, "_", "-")
}

// UnsupportedKindError reports an option whose declared Kind has no
// rendering rule or whose value does not match its Kind. It signals a
// programming error in the option table, not bad user input.
type UnsupportedKindError struct {
	Option string
	Kind   Kind
	Value  any
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported option %s: kind %s cannot render %T", e.Option, e.Kind, e.Value)
}
