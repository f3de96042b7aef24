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

// Package cli provides utilities for parsing, validating, and formatting
// tritontest command-line input and output.
//
// Parser converts repeated key=value and volume flags into structured data:
//
//	parser := cli.NewParser()
//	env, err := parser.ParseEnv([]string{"CUDA_VISIBLE_DEVICES=0"})
//
// Validator checks options at the CLI boundary before any engine call, and
// OutputFormatter renders results as text, JSON or YAML.
package cli

import (
	"fmt"
	"strings"

	"github.com/ogvalt/triton-testcontainer/triton"
)

// Parser handles parsing of CLI input into structured data.
type Parser struct{}

// NewParser creates a new CLI parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseKeyValuePairs parses key=value pairs from CLI flags. Later pairs
// override earlier ones with the same key.
//
//	result, err := parser.ParseKeyValuePairs([]string{"key1=value1", "key2=value2"})
//	// result == map[string]string{"key1": "value1", "key2": "value2"}
func (p *Parser) ParseKeyValuePairs(pairs []string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, err := ParseKeyValue(pair)
		if err != nil {
			return nil, fmt.Errorf("invalid pair %q: %w", pair, err)
		}
		result[key] = value
	}

	return result, nil
}

// ParseKeyValue parses a single key=value string.
func ParseKeyValue(pair string) (string, string, error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return "", "", fmt.Errorf("expected format key=value, got %q", pair)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("key cannot be empty")
	}

	return key, strings.TrimSpace(value), nil
}

// ParseLabels parses label flags. It returns nil for no labels.
func (p *Parser) ParseLabels(labels []string) (map[string]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	return p.ParseKeyValuePairs(labels)
}

// ParseBuildArgs parses build argument flags. It returns nil for no args.
func (p *Parser) ParseBuildArgs(buildArgs []string) (map[string]string, error) {
	if len(buildArgs) == 0 {
		return nil, nil
	}
	return p.ParseKeyValuePairs(buildArgs)
}

// ParseEnv parses container environment flags. It returns nil for no
// variables.
func (p *Parser) ParseEnv(env []string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	return p.ParseKeyValuePairs(env)
}

// ParseVolumes parses host:container[:mode] flags.
func (p *Parser) ParseVolumes(specs []string) ([]triton.VolumeMapping, error) {
	volumes := make([]triton.VolumeMapping, 0, len(specs))
	for _, spec := range specs {
		v, err := triton.ParseVolumeMapping(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid volume %q (expected host:container[:mode]): %w", spec, err)
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}

// ValidateKeyValueFormat checks if a string is in key=value format without
// parsing it.
func ValidateKeyValueFormat(pair string) bool {
	key, _, ok := strings.Cut(pair, "=")
	return ok && strings.TrimSpace(key) != ""
}
