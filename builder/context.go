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
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/moby/go-archive"
	ignore "github.com/moby/patternmatcher/ignorefile"

	"github.com/ogvalt/triton-testcontainer/errors"
)

const dockerignoreFile = ".dockerignore"

// contextSource describes what goes into the build context tarball.
type contextSource struct {
	// dir is the build context directory
	dir string

	// dockerfile is the path of the Dockerfile relative to dir, when it
	// lives inside the context
	dockerfile string

	// inline is Dockerfile content injected under a generated name
	inline []byte
}

// resolveDockerfile decides whether a Dockerfile path can be referenced in
// place or must be injected into the context.
func resolveDockerfile(contextDir, dockerfilePath string) (contextSource, error) {
	src := contextSource{dir: contextDir}
	if dockerfilePath == "" {
		src.dockerfile = "Dockerfile"
		return src, nil
	}

	abs := dockerfilePath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(contextDir, dockerfilePath)
	}
	absContext, err := filepath.Abs(contextDir)
	if err != nil {
		return src, errors.Wrap("resolve build context", contextDir, err)
	}
	absDockerfile, err := filepath.Abs(abs)
	if err != nil {
		return src, errors.Wrap("resolve dockerfile", dockerfilePath, err)
	}

	rel, err := filepath.Rel(absContext, absDockerfile)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		src.dockerfile = filepath.ToSlash(rel)
		return src, nil
	}

	content, err := os.ReadFile(absDockerfile)
	if err != nil {
		return src, errors.Wrap("read dockerfile", absDockerfile, err)
	}
	src.inline = content
	return src, nil
}

// readDockerignore returns the exclusion patterns of dir/.dockerignore, or
// nil when the file does not exist.
func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, dockerignoreFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap("open", dockerignoreFile, err)
	}
	defer func() { _ = f.Close() }()

	patterns, err := ignore.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap("parse", dockerignoreFile, err)
	}
	return patterns, nil
}

// tarContext archives the build context and returns the stream together
// with the Dockerfile name the engine should use.
func tarContext(src contextSource, encoding string) (io.ReadCloser, string, error) {
	if _, err := os.Stat(src.dir); err != nil {
		return nil, "", errors.Wrap("stat build context", src.dir, err)
	}

	excludes, err := readDockerignore(src.dir)
	if err != nil {
		return nil, "", err
	}

	dockerfile := src.dockerfile
	if src.inline == nil {
		// The engine needs the Dockerfile and .dockerignore even when
		// they are ignored.
		if len(excludes) > 0 {
			excludes = append(excludes, "!"+dockerfile, "!"+dockerignoreFile)
		}
	} else {
		dockerfile = ".dockerfile." + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}

	stream, err := archive.TarWithOptions(src.dir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return nil, "", errors.Wrap("archive build context", src.dir, err)
	}

	if src.inline != nil {
		stream = injectDockerfile(stream, dockerfile, src.inline)
	}

	if encoding == EncodingGzip {
		stream = gzipStream(stream)
	}

	return stream, dockerfile, nil
}

// injectDockerfile adds content under name and lists name in .dockerignore
// so that COPY . does not pick it up.
func injectDockerfile(stream io.ReadCloser, name string, content []byte) io.ReadCloser {
	now := time.Now()
	newHeader := func(n string) *tar.Header {
		return &tar.Header{
			Name:       n,
			Mode:       0o600,
			ModTime:    now,
			AccessTime: now,
			ChangeTime: now,
			Typeflag:   tar.TypeReg,
		}
	}

	return archive.ReplaceFileTarWrapper(stream, map[string]archive.TarModifierFunc{
		name: func(_ string, _ *tar.Header, _ io.Reader) (*tar.Header, []byte, error) {
			return newHeader(name), content, nil
		},
		dockerignoreFile: func(_ string, h *tar.Header, existing io.Reader) (*tar.Header, []byte, error) {
			if h == nil {
				h = newHeader(dockerignoreFile)
			}
			var buf bytes.Buffer
			if existing != nil {
				if _, err := io.Copy(&buf, existing); err != nil {
					return nil, nil, err
				}
			}
			buf.WriteString("\n" + dockerignoreFile + "\n" + name + "\n")
			return h, buf.Bytes(), nil
		},
	})
}

// gzipStream compresses stream on the fly.
func gzipStream(stream io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer func() { _ = stream.Close() }()

		zw := gzip.NewWriter(pw)
		_, err := io.Copy(zw, stream)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		_ = pw.CloseWithError(err)
	}()
	return pr
}
