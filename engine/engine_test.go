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

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostAddress(t *testing.T) {
	tests := []struct {
		name       string
		daemonHost string
		want       string
	}{
		{name: "unix socket", daemonHost: "unix:///var/run/docker.sock", want: "localhost"},
		{name: "named pipe", daemonHost: "npipe:////./pipe/docker_engine", want: "localhost"},
		{name: "tcp with port", daemonHost: "tcp://10.0.0.5:2376", want: "10.0.0.5"},
		{name: "tcp without port", daemonHost: "tcp://docker.internal", want: "docker.internal"},
		{name: "ssh with user", daemonHost: "ssh://ci@build-host", want: "build-host"},
		{name: "garbage", daemonHost: "not a host", want: "localhost"},
		{name: "empty", daemonHost: "", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HostAddress(tt.daemonHost))
		})
	}
}
