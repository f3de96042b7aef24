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

package main

import (
	"strings"
	"testing"
)

func TestRenderDockerfile(t *testing.T) {
	const base = "nvcr.io/nvidia/tritonserver:24.01-py3"

	tests := []struct {
		name string
		opts dockerfileOptions
		want []string
	}{
		{
			name: "base image only",
			opts: dockerfileOptions{from: base},
			want: []string{"FROM " + base},
		},
		{
			name: "model repository baked in",
			opts: dockerfileOptions{
				from:    base,
				copies:  []string{"models:/models"},
				pip:     []string{"numpy", "pillow"},
				expose:  true,
				command: "tritonserver --model-repository=/models",
			},
			want: []string{
				"FROM " + base,
				"COPY models /models",
				"RUN pip install --no-cache-dir numpy pillow",
				"EXPOSE 8000 8001 8002",
				`CMD ["tritonserver", "--model-repository=/models"]`,
			},
		},
		{
			name: "metadata and healthcheck",
			opts: dockerfileOptions{
				syntax:      "docker/dockerfile:1",
				from:        base,
				platform:    "linux/amd64",
				env:         []string{"B=2", "A=1"},
				labels:      []string{"owner=ml team"},
				workdir:     "/opt/tritonserver",
				runs:        []string{"apt-get update"},
				healthcheck: true,
			},
			want: []string{
				"# syntax=docker/dockerfile:1",
				"FROM --platform=linux/amd64 " + base,
				"ENV A=1 B=2",
				`LABEL owner="ml team"`,
				"WORKDIR /opt/tritonserver",
				"RUN apt-get update",
				"HEALTHCHECK --interval=10s --timeout=5s --retries=3 CMD curl -fs localhost:8000/v2/health/ready || exit 1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderDockerfile(tt.opts)
			if err != nil {
				t.Fatalf("renderDockerfile() unexpected error: %v", err)
			}
			if want := strings.Join(tt.want, "\n"); got != want {
				t.Errorf("renderDockerfile() =\n%s\nwant\n%s", got, want)
			}
		})
	}
}

func TestRenderDockerfile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    dockerfileOptions
		wantErr string
	}{
		{name: "no base image", opts: dockerfileOptions{}, wantErr: "image"},
		{name: "copy without destination", opts: dockerfileOptions{from: "busybox", copies: []string{"models"}}, wantErr: "invalid copy"},
		{name: "bad env", opts: dockerfileOptions{from: "busybox", env: []string{"NOVALUE"}}, wantErr: "NOVALUE"},
		{name: "unterminated command quote", opts: dockerfileOptions{from: "busybox", command: `tritonserver "--id`}, wantErr: "invalid command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := renderDockerfile(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDockerfileCommand_DefaultsToConfiguredImage(t *testing.T) {
	isolateConfig(t)
	t.Setenv("TRITONTEST_SERVER_TAG", "24.05-py3")

	out, _, err := executeCommand(t, "dockerfile")
	if err != nil {
		t.Fatalf("dockerfile returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "FROM nvcr.io/nvidia/tritonserver:24.05-py3" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[len(lines)-1] != "EXPOSE 8000 8001 8002" {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}
