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
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"

	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/engine/enginetest"
)

const testImageID = "sha256:4b825dc642cb6eb9a060e54bf8d69288fbee4904b825dc642cb6eb9a060e54b"

// buildRecorder is a fake engine that records build tags and removals.
type buildRecorder struct {
	mu      sync.Mutex
	tags    []string
	removed atomic.Int32
}

func (r *buildRecorder) engine() *enginetest.Client {
	return &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			r.mu.Lock()
			r.tags = append(r.tags, options.Tags...)
			r.mu.Unlock()
			return enginetest.BuildResponse(testImageID), nil
		},
		ImageInspectFunc: func(context.Context, string) (image.InspectResponse, error) {
			return image.InspectResponse{}, stderrors.New("no such image")
		},
		ImageRemoveFunc: func(_ context.Context, imageID string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
			r.removed.Add(1)
			return []image.DeleteResponse{{Deleted: imageID}}, nil
		},
	}
}

// writeContext creates a build context holding the named Dockerfiles.
func writeContext(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("FROM busybox\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func decodeResults(t *testing.T, out string) []cli.BuildResult {
	t.Helper()
	var results []cli.BuildResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return results
}

func TestBuildCommand_SingleDockerfile(t *testing.T) {
	isolateConfig(t)
	rec := &buildRecorder{}
	useEngine(t, rec.engine())
	dir := writeContext(t, "Dockerfile")

	out, _, err := executeCommand(t, "build", "--context", dir, "-f", "Dockerfile", "-t", "localhost/triton-test:1", "-o", "json")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	results := decodeResults(t, out)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Tag != "localhost/triton-test:1" {
		t.Errorf("Tag = %q", results[0].Tag)
	}
	if results[0].ImageID != testImageID {
		t.Errorf("ImageID = %q", results[0].ImageID)
	}
	if results[0].Reused {
		t.Error("image should not be reused")
	}
	if !slices.Equal(rec.tags, []string{"localhost/triton-test:1"}) {
		t.Errorf("engine saw tags %v", rec.tags)
	}
	if rec.removed.Load() != 0 {
		t.Error("image should be kept without --rm")
	}
}

func TestBuildCommand_SharedTagIsIndexed(t *testing.T) {
	isolateConfig(t)
	rec := &buildRecorder{}
	useEngine(t, rec.engine())
	dir := writeContext(t, "cpu.Dockerfile", "gpu.Dockerfile")

	out, _, err := executeCommand(t, "build", "--context", dir,
		"-f", "cpu.Dockerfile", "-f", "gpu.Dockerfile", "-t", "localhost/triton-test:v", "--rm", "-o", "json")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	results := decodeResults(t, out)
	if len(results) != 2 || results[0].Tag != "localhost/triton-test:v-0" || results[1].Tag != "localhost/triton-test:v-1" {
		t.Errorf("unexpected results %+v", results)
	}
	slices.Sort(rec.tags)
	if !slices.Equal(rec.tags, []string{"localhost/triton-test:v-0", "localhost/triton-test:v-1"}) {
		t.Errorf("engine saw tags %v", rec.tags)
	}
	if got := rec.removed.Load(); got != 2 {
		t.Errorf("removed %d images, want 2", got)
	}
}

func TestBuildCommand_InlineDockerfile(t *testing.T) {
	isolateConfig(t)
	rec := &buildRecorder{}
	useEngine(t, rec.engine())

	out, _, err := executeCommand(t, "build", "--context", t.TempDir(), "--dockerfile-string", "FROM busybox")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	if !strings.Contains(out, "TAG") || !strings.Contains(out, "localhost/image_builder:latest") {
		t.Errorf("unexpected table output: %q", out)
	}
	if !strings.Contains(out, "4b825dc642cb") {
		t.Errorf("table should show the short image ID: %q", out)
	}
}

func TestBuildCommand_Reuse(t *testing.T) {
	isolateConfig(t)
	var builds atomic.Int32
	useEngine(t, &enginetest.Client{
		ImageBuildFunc: func(context.Context, io.Reader, build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			builds.Add(1)
			return enginetest.BuildResponse(testImageID), nil
		},
		ImageInspectFunc: func(_ context.Context, ref string) (image.InspectResponse, error) {
			return image.InspectResponse{ID: testImageID, RepoTags: []string{ref}}, nil
		},
	})

	out, _, err := executeCommand(t, "build", "--context", t.TempDir(), "--dockerfile-string", "FROM busybox",
		"-t", "localhost/triton-test:cached", "--reuse", "-o", "json")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}

	results := decodeResults(t, out)
	if len(results) != 1 || !results[0].Reused {
		t.Errorf("expected a reused image, got %+v", results)
	}
	if builds.Load() != 0 {
		t.Error("engine build should be skipped for a reused image")
	}
}

func TestBuildCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		engine  func(context.Context, string) (engine.Client, error)
		wantErr string
	}{
		{
			name:    "no dockerfile",
			args:    []string{"build"},
			wantErr: "one of --file or --dockerfile-string is required",
		},
		{
			name:    "tag count mismatch",
			args:    []string{"build", "-f", "a", "-f", "b", "-f", "c", "-t", "x:1", "-t", "x:2"},
			wantErr: "got 2 tags for 3 images",
		},
		{
			name:    "bad build arg",
			args:    []string{"build", "--dockerfile-string", "FROM busybox", "--build-arg", "NOVALUE"},
			wantErr: "invalid build-arg format",
		},
		{
			name:    "zero concurrency",
			args:    []string{"build", "--dockerfile-string", "FROM busybox", "--concurrency", "0"},
			wantErr: "--concurrency must be at least 1",
		},
		{
			name: "engine unavailable",
			args: []string{"build", "--dockerfile-string", "FROM busybox"},
			engine: func(context.Context, string) (engine.Client, error) {
				return nil, stderrors.New("cannot connect to the Docker daemon")
			},
			wantErr: "cannot connect to the Docker daemon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfig(t)
			useEngine(t, &enginetest.Client{})
			if tt.engine != nil {
				newEngine = tt.engine
			}

			_, _, err := executeCommand(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestImageTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		fallback string
		count    int
		want     []string
	}{
		{name: "fallback", fallback: "localhost/image_builder:latest", count: 1, want: []string{"localhost/image_builder:latest"}},
		{name: "one per image", tags: []string{"a:1", "b:2"}, count: 2, want: []string{"a:1", "b:2"}},
		{name: "shared tag", tags: []string{"localhost/t:v"}, count: 3, want: []string{"localhost/t:v-0", "localhost/t:v-1", "localhost/t:v-2"}},
		{name: "shared name only", tags: []string{"triton"}, count: 2, want: []string{"triton:latest-0", "triton:latest-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := imageTags(tt.tags, tt.fallback, tt.count)
			if err != nil {
				t.Fatalf("imageTags() unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("imageTags() = %v, want %v", got, tt.want)
			}
		})
	}
}
