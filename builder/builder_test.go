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
	"archive/tar"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogvalt/triton-testcontainer/engine/enginetest"
)

const testImageID = "sha256:4b825dc642cb6eb9a060e54bf8d69288fbee4904b825dc642cb6eb9a060e54b"

// captured records what the fake engine received for one build.
type captured struct {
	options build.ImageBuildOptions
	files   map[string]string
}

// readContext extracts regular files from a build context stream.
func readContext(t *testing.T, r io.Reader, gzipped bool) map[string]string {
	t.Helper()
	if gzipped {
		zr, err := gzip.NewReader(r)
		require.NoError(t, err)
		defer func() { _ = zr.Close() }()
		r = zr
	}

	files := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	return files
}

func capturingEngine(t *testing.T, got *captured, gzipped bool, messages ...jsonmessage.JSONMessage) *enginetest.Client {
	return &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			got.options = options
			got.files = readContext(t, buildContext, gzipped)
			return enginetest.BuildResponse(testImageID, messages...), nil
		},
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestBuild_FromString(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"models/simple/config.pbtxt": "name: \"simple\""})

	var got captured
	eng := capturingEngine(t, &got, true, jsonmessage.JSONMessage{Stream: "Step 1/1 : FROM ubuntu:20.04\n"})

	dockerfile := "FROM ubuntu:20.04\nCOPY models /models"
	img, log, err := New(eng).FromString(dir, dockerfile, DefaultBuildOptions()).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, digest.Digest(testImageID), img.ID)
	assert.Equal(t, []string{DefaultTag}, img.Tags)
	require.NotNil(t, log)
	assert.Equal(t, "Step 1/1 : FROM ubuntu:20.04\n", log.String())

	name := got.options.Dockerfile
	assert.Regexp(t, `^\.dockerfile\.[0-9a-f]{20}$`, name)
	assert.Equal(t, dockerfile, got.files[name])
	assert.Contains(t, got.files[".dockerignore"], name)
	assert.Contains(t, got.files, "models/simple/config.pbtxt")

	assert.Equal(t, []string{DefaultTag}, got.options.Tags)
	assert.Equal(t, "host", got.options.NetworkMode)
	assert.Equal(t, int64(64*1024*1024), got.options.ShmSize)
}

func TestBuild_FromPathHonorsDockerignore(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"Dockerfile":    "FROM ubuntu:20.04",
		".dockerignore": "*.log\nDockerfile\n",
		"keep.txt":      "keep",
		"debug.log":     "drop",
	})

	var got captured
	eng := capturingEngine(t, &got, false)

	opts := DefaultBuildOptions()
	opts.Encoding = EncodingIdentity
	_, _, err := New(eng).FromPath(dir, filepath.Join(dir, "Dockerfile"), opts).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Dockerfile", got.options.Dockerfile)
	assert.Contains(t, got.files, "Dockerfile")
	assert.Contains(t, got.files, "keep.txt")
	assert.NotContains(t, got.files, "debug.log")
}

func TestBuild_FromPathOutsideContext(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "Dockerfile.triton")
	require.NoError(t, os.WriteFile(outside, []byte("FROM busybox"), 0o644))

	var got captured
	eng := capturingEngine(t, &got, true)

	_, _, err := New(eng).FromPath(dir, outside, DefaultBuildOptions()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FROM busybox", got.files[got.options.Dockerfile])
}

func TestBuild_MissingContext(t *testing.T) {
	_, _, err := New(&enginetest.Client{}).
		FromString(filepath.Join(t.TempDir(), "missing"), "FROM busybox", DefaultBuildOptions()).
		Build(context.Background())
	assert.Error(t, err)

	_, _, err = New(&enginetest.Client{}).Build(context.Background())
	assert.Error(t, err)
}

func TestBuild_EngineErrorUnchanged(t *testing.T) {
	engineErr := stderrors.New("Cannot connect to the Docker daemon")
	eng := &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			return build.ImageBuildResponse{}, engineErr
		},
	}

	_, _, err := New(eng).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).Build(context.Background())
	assert.Same(t, engineErr, err)
}

func TestBuild_StreamErrorUnchanged(t *testing.T) {
	eng := &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			return enginetest.ErrorResponse("dockerfile parse error line 1: unknown instruction: FORM",
				jsonmessage.JSONMessage{Stream: "Step 1/1\n"}), nil
		},
	}

	_, _, err := New(eng).FromString(t.TempDir(), "FORM busybox", DefaultBuildOptions()).Build(context.Background())

	var jerr *jsonmessage.JSONError
	require.True(t, stderrors.As(err, &jerr))
	assert.Equal(t, "dockerfile parse error line 1: unknown instruction: FORM", jerr.Message)
}

func TestBuild_QuietHasNoLog(t *testing.T) {
	var got captured
	eng := capturingEngine(t, &got, true, jsonmessage.JSONMessage{Stream: "noise\n"})

	opts := DefaultBuildOptions()
	opts.Quiet = true
	img, log, err := New(eng).FromString(t.TempDir(), "FROM busybox", opts).Build(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Nil(t, log)
	assert.True(t, got.options.SuppressOutput)
}

func TestBuild_InspectsWhenNoAuxID(t *testing.T) {
	eng := &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			return build.ImageBuildResponse{Body: io.NopCloser(emptyStream{})}, nil
		},
		ImageInspectFunc: func(_ context.Context, ref string) (image.InspectResponse, error) {
			return image.InspectResponse{ID: testImageID, RepoTags: []string{ref}}, nil
		},
	}

	img, _, err := New(eng, WithTag("triton-test")).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, digest.Digest(testImageID), img.ID)
	assert.Equal(t, []string{"triton-test:latest"}, img.Tags)
}

type emptyStream struct{}

func (emptyStream) Read([]byte) (int, error) { return 0, io.EOF }

func TestBuild_InvalidTag(t *testing.T) {
	_, _, err := New(&enginetest.Client{}, WithTag("UPPER/case:tag")).
		FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).
		Build(context.Background())
	assert.Error(t, err)
}

func TestBuild_IdleTimeout(t *testing.T) {
	eng := &enginetest.Client{
		ImageBuildFunc: func(ctx context.Context, buildContext io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			pr, pw := io.Pipe()
			go func() {
				<-ctx.Done()
				_ = pw.CloseWithError(ctx.Err())
			}()
			return build.ImageBuildResponse{Body: pr}, nil
		},
	}

	opts := DefaultBuildOptions()
	opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, _, err := New(eng).FromString(t.TempDir(), "FROM busybox", opts).Build(context.Background())
	require.Error(t, err)

	var terr *TimeoutError
	assert.True(t, stderrors.As(err, &terr))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuild_LogWriter(t *testing.T) {
	var got captured
	eng := capturingEngine(t, &got, true, jsonmessage.JSONMessage{Stream: "Step 1/2 : FROM busybox\n"})

	var out syncBuffer
	_, _, err := New(eng, WithLogWriter(&out)).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Step 1/2 : FROM busybox")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func removalCounter(eng *enginetest.Client) *atomic.Int32 {
	var calls atomic.Int32
	eng.ImageRemoveFunc = func(_ context.Context, imageID string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
		calls.Add(1)
		return []image.DeleteResponse{{Deleted: imageID}}, nil
	}
	return &calls
}

func TestWithImage_RemovesExactlyOnce(t *testing.T) {
	fnErr := stderrors.New("assertion failed inside scope")

	tests := []struct {
		name    string
		fn      func(*Image) error
		wantErr error
		panics  bool
	}{
		{name: "normal return", fn: func(*Image) error { return nil }},
		{name: "error return", fn: func(*Image) error { return fnErr }, wantErr: fnErr},
		{name: "panic", fn: func(*Image) error { panic("boom") }, panics: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &enginetest.Client{}
			calls := removalCounter(eng)
			b := New(eng).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions())

			run := func() error { return b.WithImage(context.Background(), tt.fn) }
			if tt.panics {
				assert.Panics(t, func() { _ = run() })
			} else {
				err := run()
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.NoError(t, err)
				}
			}

			assert.Equal(t, int32(1), calls.Load())
			assert.Nil(t, b.Image())
		})
	}
}

func TestWithImage_RemoveOptions(t *testing.T) {
	var got image.RemoveOptions
	var removed string
	eng := &enginetest.Client{
		ImageRemoveFunc: func(_ context.Context, imageID string, opts image.RemoveOptions) ([]image.DeleteResponse, error) {
			removed, got = imageID, opts
			return nil, nil
		},
	}

	err := New(eng, WithForceRemove(true), WithNoPrune(true)).
		FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).
		WithImage(context.Background(), func(*Image) error { return nil })
	require.NoError(t, err)

	assert.True(t, got.Force)
	assert.False(t, got.PruneChildren)
	assert.Equal(t, "sha256:0000000000000000000000000000000000000000000000000000000000000000", removed)
}

func TestWithImage_RemoveErrorSurfaces(t *testing.T) {
	eng := &enginetest.Client{
		ImageRemoveFunc: func(context.Context, string, image.RemoveOptions) ([]image.DeleteResponse, error) {
			return nil, stderrors.New("image is being used by running container")
		},
	}

	err := New(eng).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).
		WithImage(context.Background(), func(*Image) error { return nil })
	assert.ErrorContains(t, err, "image is being used")
}

func TestWithImage_ReuseSkipsBuildAndRemoval(t *testing.T) {
	var builds atomic.Int32
	eng := &enginetest.Client{
		ImageBuildFunc: func(context.Context, io.Reader, build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			builds.Add(1)
			return enginetest.BuildResponse(testImageID), nil
		},
		ImageInspectFunc: func(_ context.Context, ref string) (image.InspectResponse, error) {
			return image.InspectResponse{ID: testImageID, RepoTags: []string{ref}}, nil
		},
	}
	removals := removalCounter(eng)

	var seen *Image
	err := New(eng, WithReuse(true)).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).
		WithImage(context.Background(), func(img *Image) error {
			seen = img
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, int32(0), builds.Load())
	assert.Equal(t, int32(0), removals.Load())
	require.NotNil(t, seen)
	assert.Equal(t, digest.Digest(testImageID), seen.ID)
}

func TestWithImage_BuildFailureSkipsFn(t *testing.T) {
	eng := &enginetest.Client{
		ImageBuildFunc: func(_ context.Context, buildContext io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
			_, _ = io.Copy(io.Discard, buildContext)
			return enginetest.ErrorResponse("failed to solve"), nil
		},
	}
	removals := removalCounter(eng)

	called := false
	err := New(eng).FromString(t.TempDir(), "FROM busybox", DefaultBuildOptions()).
		WithImage(context.Background(), func(*Image) error {
			called = true
			return nil
		})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, int32(0), removals.Load())
}

func TestRemove_NothingBuilt(t *testing.T) {
	eng := &enginetest.Client{}
	removals := removalCounter(eng)
	assert.NoError(t, New(eng).Remove(context.Background()))
	assert.Equal(t, int32(0), removals.Load())
}
