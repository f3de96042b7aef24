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
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ogvalt/triton-testcontainer/errors"
)

// Volume access modes.
const (
	ModeReadOnly  = "ro"
	ModeReadWrite = "rw"
)

// VolumeModes lists the accepted volume modes.
var VolumeModes = []string{ModeReadOnly, ModeReadWrite}

// VolumeMapping bind-mounts a host path into the container.
type VolumeMapping struct {
	Host      string
	Container string
	Mode      string
}

// ParseVolumeMapping parses "host:container[:mode]".
func ParseVolumeMapping(spec string) (VolumeMapping, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		return VolumeMapping{Host: parts[0], Container: parts[1]}, nil
	case 3:
		return VolumeMapping{Host: parts[0], Container: parts[1], Mode: parts[2]}, nil
	default:
		return VolumeMapping{}, &errors.ValidationError{Field: "volume", Value: spec}
	}
}

// String returns the engine bind form host:container:mode.
func (v VolumeMapping) String() string {
	mode := v.Mode
	if mode == "" {
		mode = ModeReadOnly
	}
	return v.Host + ":" + v.Container + ":" + mode
}

// normalize makes the host path absolute, defaults the mode to read-only
// and validates the mapping.
func (v VolumeMapping) normalize() (VolumeMapping, error) {
	if v.Host == "" {
		return v, &errors.MissingArgumentError{Argument: "host", Instruction: "volume"}
	}
	if v.Container == "" {
		return v, &errors.MissingArgumentError{Argument: "container", Instruction: "volume"}
	}
	if !path.IsAbs(v.Container) {
		return v, &errors.ValidationError{Field: "volume container path", Value: v.Container}
	}

	if v.Mode == "" {
		v.Mode = ModeReadOnly
	}
	if !slices.Contains(VolumeModes, v.Mode) {
		return v, &errors.ValidationError{Field: "volume mode", Value: v.Mode, Allowed: VolumeModes}
	}

	host, err := filepath.Abs(v.Host)
	if err != nil {
		return v, errors.Wrap("resolve volume host path", v.Host, err)
	}
	v.Host = host
	return v, nil
}
