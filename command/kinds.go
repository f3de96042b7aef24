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

package command

import (
	"slices"
	"strconv"

	"github.com/ogvalt/triton-testcontainer/errors"
)

// Kind selects how an option is rendered.
type Kind int

const (
	// KindPresence renders --name when set and nothing otherwise.
	KindPresence Kind = iota + 1
	// KindBool renders --name=1 or --name=0.
	KindBool
	// KindString renders --name=value.
	KindString
	// KindInt renders --name=value.
	KindInt
	// KindStringList renders one --name=item per element, in order.
	KindStringList
	// KindEnum renders --name=value after checking the allowed set.
	KindEnum
)

// String returns the kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindPresence:
		return "presence"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindStringList:
		return "string-list"
	case KindEnum:
		return "enum"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// option is the static metadata for one Options field.
type option struct {
	name    string
	kind    Kind
	allowed []string
	value   func(*Options) any
}

// optionTable is in Options declaration order, which is also flag order.
var optionTable = []option{
	{name: "id", kind: KindString, value: func(o *Options) any { return o.ID }},
	{name: "exit_timeout_secs", kind: KindInt, value: func(o *Options) any { return o.ExitTimeoutSecs }},
	{name: "log_verbose", kind: KindInt, value: func(o *Options) any { return o.LogVerbose }},
	{name: "log_info", kind: KindBool, value: func(o *Options) any { return o.LogInfo }},
	{name: "log_warning", kind: KindBool, value: func(o *Options) any { return o.LogWarning }},
	{name: "log_error", kind: KindBool, value: func(o *Options) any { return o.LogError }},
	{name: "log_format", kind: KindEnum, allowed: LogFormats, value: func(o *Options) any { return o.LogFormat }},
	{name: "log_file", kind: KindString, value: func(o *Options) any { return o.LogFile }},
	{name: "model_store", kind: KindStringList, value: func(o *Options) any { return o.ModelStore }},
	{name: "model_repository", kind: KindStringList, value: func(o *Options) any { return o.ModelRepository }},
	{name: "exit_on_error", kind: KindBool, value: func(o *Options) any { return o.ExitOnError }},
	{name: "disable_auto_complete_config", kind: KindPresence, value: func(o *Options) any { return o.DisableAutoCompleteConfig }},
	{name: "strict_model_config", kind: KindBool, value: func(o *Options) any { return o.StrictModelConfig }},
	{name: "strict_readiness", kind: KindBool, value: func(o *Options) any { return o.StrictReadiness }},
	{name: "model_control_mode", kind: KindEnum, allowed: ModelControlModes, value: func(o *Options) any { return o.ModelControlMode }},
	{name: "repository_poll_secs", kind: KindInt, value: func(o *Options) any { return o.RepositoryPollSecs }},
	{name: "load_model", kind: KindStringList, value: func(o *Options) any { return o.LoadModel }},
	{name: "model_load_thread_count", kind: KindInt, value: func(o *Options) any { return o.ModelLoadThreadCount }},
	{name: "model_load_retry_count", kind: KindInt, value: func(o *Options) any { return o.ModelLoadRetryCount }},
	{name: "model_namespacing", kind: KindBool, value: func(o *Options) any { return o.ModelNamespacing }},
	{name: "allow_http", kind: KindBool, value: func(o *Options) any { return o.AllowHTTP }},
	{name: "http_port", kind: KindInt, value: func(o *Options) any { return o.HTTPPort }},
	{name: "allow_grpc", kind: KindBool, value: func(o *Options) any { return o.AllowGRPC }},
	{name: "grpc_port", kind: KindInt, value: func(o *Options) any { return o.GRPCPort }},
	{name: "allow_metrics", kind: KindBool, value: func(o *Options) any { return o.AllowMetrics }},
	{name: "allow_gpu_metrics", kind: KindBool, value: func(o *Options) any { return o.AllowGPUMetrics }},
	{name: "metrics_port", kind: KindInt, value: func(o *Options) any { return o.MetricsPort }},
	{name: "backend_directory", kind: KindString, value: func(o *Options) any { return o.BackendDirectory }},
	{name: "backend_config", kind: KindStringList, value: func(o *Options) any { return o.BackendConfig }},
}

// render returns the flags for one option value; nil when the value is unset.
func (opt option) render(v any) ([]string, error) {
	flag := "--" + FlagName(opt.name)

	switch opt.kind {
	case KindPresence:
		set, ok := v.(bool)
		if !ok {
			return nil, opt.unsupported(v)
		}
		if !set {
			return nil, nil
		}
		return []string{flag}, nil

	case KindBool:
		b, ok := v.(*bool)
		if !ok {
			return nil, opt.unsupported(v)
		}
		if b == nil {
			return nil, nil
		}
		if *b {
			return []string{flag + "=1"}, nil
		}
		return []string{flag + "=0"}, nil

	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, opt.unsupported(v)
		}
		if s == "" {
			return nil, nil
		}
		return []string{flag + "=" + s}, nil

	case KindInt:
		i, ok := v.(*int)
		if !ok {
			return nil, opt.unsupported(v)
		}
		if i == nil {
			return nil, nil
		}
		return []string{flag + "=" + strconv.Itoa(*i)}, nil

	case KindStringList:
		items, ok := v.([]string)
		if !ok {
			return nil, opt.unsupported(v)
		}
		flags := make([]string, 0, len(items))
		for _, item := range items {
			flags = append(flags, flag+"="+item)
		}
		return flags, nil

	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, opt.unsupported(v)
		}
		if s == "" {
			return nil, nil
		}
		if !slices.Contains(opt.allowed, s) {
			return nil, &errors.ValidationError{Field: opt.name, Value: s, Allowed: opt.allowed}
		}
		return []string{flag + "=" + s}, nil

	default:
		return nil, opt.unsupported(v)
	}
}

func (opt option) unsupported(v any) error {
	return &UnsupportedKindError{Option: opt.name, Kind: opt.kind, Value: v}
}
