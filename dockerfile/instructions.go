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

package dockerfile

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ogvalt/triton-testcontainer/errors"
)

// FromArgs describes a FROM instruction.
type FromArgs struct {
	Image    string
	Platform string
	As       string
	Raw      string
}

// ArgArgs describes an ARG instruction.
type ArgArgs struct {
	Name    string
	Default string
	Raw     string
}

// EnvArgs describes an ENV instruction. Keys are emitted in sorted order.
type EnvArgs struct {
	Vars map[string]string
	Raw  string
}

// LabelArgs describes a LABEL instruction. Keys are emitted in sorted order.
type LabelArgs struct {
	Labels map[string]string
	Raw    string
}

// CopyArgs describes a COPY instruction.
type CopyArgs struct {
	Sources []string
	Dest    string
	From    string
	Chown   string
	Chmod   string
	Link    bool
	Parents bool
	Exclude []string
	Raw     string
}

// AddArgs describes an ADD instruction.
type AddArgs struct {
	Sources    []string
	Dest       string
	KeepGitDir bool
	Checksum   string
	Chown      string
	Chmod      string
	Link       bool
	Exclude    []string
	Raw        string
}

// RunArgs describes a RUN instruction. Exec selects the exec form and takes
// precedence over Shell.
type RunArgs struct {
	Exec     []string
	Shell    string
	Mounts   []string
	Network  string
	Security string
	Raw      string
}

// CommandArgs describes a CMD or ENTRYPOINT instruction. Exec selects the
// exec form and takes precedence over Shell.
type CommandArgs struct {
	Exec  []string
	Shell string
	Raw   string
}

// ExposeArgs describes an EXPOSE instruction, e.g. Ports "8000/tcp".
type ExposeArgs struct {
	Ports []string
	Raw   string
}

// HealthcheckArgs describes a HEALTHCHECK instruction. None disables any
// inherited check and ignores the other fields.
type HealthcheckArgs struct {
	None          bool
	Interval      time.Duration
	Timeout       time.Duration
	StartPeriod   time.Duration
	StartInterval time.Duration
	Retries       int
	Exec          []string
	Shell         string
	Raw           string
}

// ShellArgs describes a SHELL instruction, which only has an exec form.
type ShellArgs struct {
	Exec []string
	Raw  string
}

// StopSignalArgs describes a STOPSIGNAL instruction.
type StopSignalArgs struct {
	Signal string
	Raw    string
}

// UserArgs describes a USER instruction.
type UserArgs struct {
	User  string
	Group string
	Raw   string
}

// VolumeArgs describes a VOLUME instruction.
type VolumeArgs struct {
	Paths []string
	Raw   string
}

// WorkdirArgs describes a WORKDIR instruction.
type WorkdirArgs struct {
	Path string
	Raw  string
}

// OnBuildArgs describes an ONBUILD instruction wrapping another instruction.
type OnBuildArgs struct {
	Instruction string
	Raw         string
}

// MaintainerArgs describes the deprecated MAINTAINER instruction.
type MaintainerArgs struct {
	Name string
	Raw  string
}

// From appends FROM [--platform=<p>] <image> [AS <name>].
func (b *Builder) From(args FromArgs) *Builder {
	return b.appendLine("FROM", args.Raw, func() (string, error) {
		if args.Image == "" {
			return "", missing("image", "FROM")
		}
		var f flagSet
		f.value("platform", args.Platform)
		parts := append(f, args.Image)
		if args.As != "" {
			parts = append(parts, "AS", args.As)
		}
		return strings.Join(parts, " "), nil
	})
}

// Arg appends ARG <name>[=<default>].
func (b *Builder) Arg(args ArgArgs) *Builder {
	return b.appendLine("ARG", args.Raw, func() (string, error) {
		if args.Name == "" {
			return "", missing("name", "ARG")
		}
		if args.Default == "" {
			return args.Name, nil
		}
		return args.Name + "=" + quote(args.Default), nil
	})
}

// Env appends ENV <key>=<value> ...
func (b *Builder) Env(args EnvArgs) *Builder {
	return b.appendLine("ENV", args.Raw, func() (string, error) {
		if len(args.Vars) == 0 {
			return "", missing("vars", "ENV")
		}
		return keyValues(args.Vars), nil
	})
}

// Label appends LABEL <key>=<value> ...
func (b *Builder) Label(args LabelArgs) *Builder {
	return b.appendLine("LABEL", args.Raw, func() (string, error) {
		if len(args.Labels) == 0 {
			return "", missing("labels", "LABEL")
		}
		return keyValues(args.Labels), nil
	})
}

// Copy appends COPY [--from] [--chown] [--chmod] [--link] [--parents]
// [--exclude] <src>... <dest>.
func (b *Builder) Copy(args CopyArgs) *Builder {
	return b.appendLine("COPY", args.Raw, func() (string, error) {
		if err := requirePaths("COPY", args.Sources, args.Dest); err != nil {
			return "", err
		}
		var f flagSet
		f.value("from", args.From)
		f.value("chown", args.Chown)
		f.value("chmod", args.Chmod)
		f.bare("link", args.Link)
		f.bare("parents", args.Parents)
		f.values("exclude", args.Exclude)
		return f.with(paths(args.Sources, args.Dest))
	})
}

// Add appends ADD [--keep-git-dir] [--checksum] [--chown] [--chmod] [--link]
// [--exclude] <src>... <dest>.
func (b *Builder) Add(args AddArgs) *Builder {
	return b.appendLine("ADD", args.Raw, func() (string, error) {
		if err := requirePaths("ADD", args.Sources, args.Dest); err != nil {
			return "", err
		}
		var f flagSet
		f.bare("keep-git-dir", args.KeepGitDir)
		f.value("checksum", args.Checksum)
		f.value("chown", args.Chown)
		f.value("chmod", args.Chmod)
		f.bare("link", args.Link)
		f.values("exclude", args.Exclude)
		return f.with(paths(args.Sources, args.Dest))
	})
}

// Run appends RUN [--mount]... [--network] [--security] <command>.
func (b *Builder) Run(args RunArgs) *Builder {
	return b.appendLine("RUN", args.Raw, func() (string, error) {
		body, err := commandForm("RUN", args.Exec, args.Shell)
		if err != nil {
			return "", err
		}
		var f flagSet
		f.values("mount", args.Mounts)
		f.value("network", args.Network)
		f.value("security", args.Security)
		return f.with(body)
	})
}

// Cmd appends CMD in exec or shell form.
func (b *Builder) Cmd(args CommandArgs) *Builder {
	return b.appendLine("CMD", args.Raw, func() (string, error) {
		return commandForm("CMD", args.Exec, args.Shell)
	})
}

// Entrypoint appends ENTRYPOINT in exec or shell form.
func (b *Builder) Entrypoint(args CommandArgs) *Builder {
	return b.appendLine("ENTRYPOINT", args.Raw, func() (string, error) {
		return commandForm("ENTRYPOINT", args.Exec, args.Shell)
	})
}

// Expose appends EXPOSE <port>[/<protocol>]...
func (b *Builder) Expose(args ExposeArgs) *Builder {
	return b.appendLine("EXPOSE", args.Raw, func() (string, error) {
		if len(args.Ports) == 0 {
			return "", missing("ports", "EXPOSE")
		}
		return strings.Join(args.Ports, " "), nil
	})
}

// Healthcheck appends HEALTHCHECK NONE or HEALTHCHECK [--interval]
// [--timeout] [--start-period] [--start-interval] [--retries] CMD <command>.
func (b *Builder) Healthcheck(args HealthcheckArgs) *Builder {
	return b.appendLine("HEALTHCHECK", args.Raw, func() (string, error) {
		if args.None {
			return "NONE", nil
		}
		body, err := commandForm("HEALTHCHECK", args.Exec, args.Shell)
		if err != nil {
			return "", err
		}
		var f flagSet
		f.duration("interval", args.Interval)
		f.duration("timeout", args.Timeout)
		f.duration("start-period", args.StartPeriod)
		f.duration("start-interval", args.StartInterval)
		if args.Retries > 0 {
			f.value("retries", strconv.Itoa(args.Retries))
		}
		return f.with("CMD " + body)
	})
}

// Shell appends SHELL ["executable", "parameters"].
func (b *Builder) Shell(args ShellArgs) *Builder {
	return b.appendLine("SHELL", args.Raw, func() (string, error) {
		if len(args.Exec) == 0 {
			return "", missing("exec", "SHELL")
		}
		return execForm(args.Exec)
	})
}

// StopSignal appends STOPSIGNAL <signal>.
func (b *Builder) StopSignal(args StopSignalArgs) *Builder {
	return b.appendLine("STOPSIGNAL", args.Raw, func() (string, error) {
		if args.Signal == "" {
			return "", missing("signal", "STOPSIGNAL")
		}
		return args.Signal, nil
	})
}

// User appends USER <user>[:<group>].
func (b *Builder) User(args UserArgs) *Builder {
	return b.appendLine("USER", args.Raw, func() (string, error) {
		if args.User == "" {
			return "", missing("user", "USER")
		}
		if args.Group != "" {
			return args.User + ":" + args.Group, nil
		}
		return args.User, nil
	})
}

// Volume appends VOLUME ["<path>", ...].
func (b *Builder) Volume(args VolumeArgs) *Builder {
	return b.appendLine("VOLUME", args.Raw, func() (string, error) {
		if len(args.Paths) == 0 {
			return "", missing("paths", "VOLUME")
		}
		return execForm(args.Paths)
	})
}

// Workdir appends WORKDIR <path>.
func (b *Builder) Workdir(args WorkdirArgs) *Builder {
	return b.appendLine("WORKDIR", args.Raw, func() (string, error) {
		if args.Path == "" {
			return "", missing("path", "WORKDIR")
		}
		return args.Path, nil
	})
}

// OnBuild appends ONBUILD <instruction>.
func (b *Builder) OnBuild(args OnBuildArgs) *Builder {
	return b.appendLine("ONBUILD", args.Raw, func() (string, error) {
		if args.Instruction == "" {
			return "", missing("instruction", "ONBUILD")
		}
		return args.Instruction, nil
	})
}

// Maintainer appends MAINTAINER <name>.
func (b *Builder) Maintainer(args MaintainerArgs) *Builder {
	return b.appendLine("MAINTAINER", args.Raw, func() (string, error) {
		if args.Name == "" {
			return "", missing("name", "MAINTAINER")
		}
		return args.Name, nil
	})
}

// flagSet collects rendered instruction flags in call order.
type flagSet []string

func (f *flagSet) value(name, v string) {
	if v != "" {
		*f = append(*f, "--"+name+"="+v)
	}
}

func (f *flagSet) values(name string, vs []string) {
	for _, v := range vs {
		f.value(name, v)
	}
}

func (f *flagSet) bare(name string, set bool) {
	if set {
		*f = append(*f, "--"+name)
	}
}

func (f *flagSet) duration(name string, d time.Duration) {
	if d > 0 {
		f.value(name, d.String())
	}
}

func (f flagSet) with(positional string) (string, error) {
	return strings.Join(append(f, positional), " "), nil
}

func missing(argument, instruction string) error {
	return &errors.MissingArgumentError{Argument: argument, Instruction: instruction}
}

func requirePaths(instruction string, sources []string, dest string) error {
	if len(sources) == 0 {
		return missing("sources", instruction)
	}
	if dest == "" {
		return missing("dest", instruction)
	}
	return nil
}

// paths renders <src>... <dest>, switching to the JSON form when any path
// contains whitespace.
func paths(sources []string, dest string) string {
	all := append(slices.Clone(sources), dest)
	if slices.ContainsFunc(all, hasSpace) {
		out, _ := execForm(all)
		return out
	}
	return strings.Join(all, " ")
}

func commandForm(instruction string, exec []string, shell string) (string, error) {
	switch {
	case len(exec) > 0:
		return execForm(exec)
	case shell != "":
		return shell, nil
	default:
		return "", missing("command", instruction)
	}
}

// execForm renders a JSON array without HTML escaping so that shell
// operators such as && survive unchanged.
func execForm(args []string) (string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(arg); err != nil {
			return "", errors.Wrap("encode exec form argument", arg, err)
		}
		items = append(items, strings.TrimSuffix(buf.String(), "\n"))
	}
	return "[" + strings.Join(items, ", ") + "]", nil
}

func keyValues(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		pairs = append(pairs, k+"="+quote(m[k]))
	}
	return strings.Join(pairs, " ")
}

func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"'\\") {
		return strconv.Quote(v)
	}
	return v
}

func hasSpace(s string) bool {
	return strings.ContainsAny(s, " \t")
}
