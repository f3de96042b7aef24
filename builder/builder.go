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

// Package builder builds container images through the Docker Engine from a
// Dockerfile on disk or an in-memory Dockerfile string.
//
// An ImageBuilder is configured once with New and a source (FromPath or
// FromString), then built with Build or used as a scoped acquisition with
// WithImage, which removes the image on every exit path.
package builder

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/opencontainers/go-digest"

	"github.com/ogvalt/triton-testcontainer/engine"
	"github.com/ogvalt/triton-testcontainer/errors"
	"github.com/ogvalt/triton-testcontainer/logging"
)

// DefaultTag is applied to built images when no tag is configured.
const DefaultTag = "localhost/image_builder:latest"

// Image is a built image.
type Image struct {
	// ID is the content-addressable image ID
	ID digest.Digest

	// Tags are the repository tags applied by the build
	Tags []string
}

// BuildLog is the decoded progress stream of a build.
type BuildLog struct {
	Messages []jsonmessage.JSONMessage
}

// String concatenates the stream output of the build.
func (l *BuildLog) String() string {
	if l == nil {
		return ""
	}
	var sb strings.Builder
	for _, m := range l.Messages {
		switch {
		case m.Stream != "":
			sb.WriteString(m.Stream)
		case m.Status != "":
			sb.WriteString(m.Status)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Option configures an ImageBuilder.
type Option func(*ImageBuilder)

// WithTag sets the repository tag of the built image.
func WithTag(tag string) Option {
	return func(b *ImageBuilder) {
		b.tag = tag
	}
}

// WithForceRemove removes the image even when containers use it.
func WithForceRemove(force bool) Option {
	return func(b *ImageBuilder) {
		b.forceRemove = force
	}
}

// WithNoPrune keeps untagged parent images on removal.
func WithNoPrune(noPrune bool) Option {
	return func(b *ImageBuilder) {
		b.noPrune = noPrune
	}
}

// WithReuse skips the build when an image with the tag already exists.
// A reused image is never removed by Remove or WithImage.
func WithReuse(reuse bool) Option {
	return func(b *ImageBuilder) {
		b.reuse = reuse
	}
}

// WithLogWriter streams the build output to w while building.
func WithLogWriter(w io.Writer) Option {
	return func(b *ImageBuilder) {
		b.logWriter = w
	}
}

// ImageBuilder builds one image. It is not safe for concurrent use.
type ImageBuilder struct {
	engine      engine.Client
	tag         string
	forceRemove bool
	noPrune     bool
	reuse       bool
	logWriter   io.Writer

	contextDir     string
	dockerfilePath string
	dockerfile     *string
	options        BuildOptions

	image  *Image
	log    *BuildLog
	reused bool
}

// New returns an ImageBuilder that uses eng for all engine calls.
func New(eng engine.Client, opts ...Option) *ImageBuilder {
	b := &ImageBuilder{
		engine:  eng,
		tag:     DefaultTag,
		options: DefaultBuildOptions(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FromPath builds from the Dockerfile at dockerfilePath. A relative path is
// resolved against contextDir; an empty path means contextDir/Dockerfile.
func (b *ImageBuilder) FromPath(contextDir, dockerfilePath string, opts BuildOptions) *ImageBuilder {
	b.contextDir = contextDir
	b.dockerfilePath = dockerfilePath
	b.dockerfile = nil
	b.options = opts
	return b
}

// FromString builds from the in-memory Dockerfile text with contextDir as
// the build context.
func (b *ImageBuilder) FromString(contextDir, dockerfile string, opts BuildOptions) *ImageBuilder {
	b.contextDir = contextDir
	b.dockerfilePath = ""
	b.dockerfile = &dockerfile
	b.options = opts
	return b
}

// Tag returns the configured image tag.
func (b *ImageBuilder) Tag() string {
	return b.tag
}

// Image returns the last built image, or nil.
func (b *ImageBuilder) Image() *Image {
	return b.image
}

// Reused reports whether the last Build returned an existing image instead
// of building one.
func (b *ImageBuilder) Reused() bool {
	return b.reused
}

// Log returns the log of the last build, or nil.
func (b *ImageBuilder) Log() *BuildLog {
	return b.log
}

// Build builds the image. Errors reported by the engine, either from the
// build call or inside the progress stream, are returned unchanged. The
// returned log is nil for quiet builds.
func (b *ImageBuilder) Build(ctx context.Context) (*Image, *BuildLog, error) {
	named, err := reference.ParseNormalizedNamed(b.tag)
	if err != nil {
		return nil, nil, errors.Wrap("parse image tag", b.tag, err)
	}
	tag := reference.FamiliarString(reference.TagNameOnly(named))

	if b.reuse {
		if img, ok := b.existing(ctx, tag); ok {
			b.image, b.log, b.reused = img, nil, true
			return img, nil, nil
		}
	}

	src, err := b.source()
	if err != nil {
		return nil, nil, err
	}

	stream, dockerfile, err := tarContext(src, b.options.Encoding)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = stream.Close() }()

	buildOpts, err := b.options.engineOptions([]string{tag}, dockerfile)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.DebugContext(ctx, "Building image %s from %s", tag, b.contextDir)
	for k, v := range b.options.BuildArgs {
		logging.DebugContext(ctx, "Build arg %s=%s", k, logging.RedactSensitiveValue(k, v))
	}

	resp, err := b.engine.ImageBuild(ctx, stream, buildOpts)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body := newIdleReader(resp.Body, b.options.Timeout, cancel)
	defer body.stop()

	id, log, err := b.decode(body)
	if err != nil {
		if body.expired() {
			return nil, nil, errors.Wrap("build image", tag, &TimeoutError{Timeout: b.options.Timeout})
		}
		return nil, nil, err
	}

	img := &Image{ID: id, Tags: []string{tag}}
	if id == "" {
		inspected, err := b.engine.ImageInspect(ctx, tag)
		if err != nil {
			return nil, nil, errors.Wrap("inspect built image", tag, err)
		}
		img.ID = digest.Digest(inspected.ID)
		img.Tags = inspected.RepoTags
	}

	if b.options.Quiet {
		log = nil
	}

	b.image, b.log, b.reused = img, log, false
	logging.InfoContext(ctx, "Built image %s (%s)", tag, img.ID)
	return img, log, nil
}

// Remove removes the built image. It is a no-op when nothing was built or
// the image was reused.
func (b *ImageBuilder) Remove(ctx context.Context) error {
	if b.image == nil || b.reused {
		return nil
	}

	ref := b.image.ID.String()
	if ref == "" && len(b.image.Tags) > 0 {
		ref = b.image.Tags[0]
	}

	_, err := b.engine.ImageRemove(ctx, ref, image.RemoveOptions{
		Force:         b.forceRemove,
		PruneChildren: !b.noPrune,
	})
	if err != nil {
		return errors.Wrap("remove image", ref, err)
	}

	logging.DebugContext(ctx, "Removed image %s", ref)
	b.image = nil
	return nil
}

// WithImage builds the image, calls fn with it and removes the image when
// fn returns, fails or panics. A removal error is returned only when fn
// succeeded.
func (b *ImageBuilder) WithImage(ctx context.Context, fn func(*Image) error) (err error) {
	img, _, err := b.Build(ctx)
	if err != nil {
		return err
	}

	defer func() {
		// Removal must not be skipped when ctx was cancelled inside fn.
		rmErr := b.Remove(context.WithoutCancel(ctx))
		if err == nil {
			err = rmErr
		} else if rmErr != nil {
			logging.WarnContext(ctx, "Failed to remove image %s: %v", img.ID, rmErr)
		}
	}()

	return fn(img)
}

func (b *ImageBuilder) existing(ctx context.Context, tag string) (*Image, bool) {
	inspected, err := b.engine.ImageInspect(ctx, tag)
	if err != nil {
		return nil, false
	}
	logging.InfoContext(ctx, "Reusing existing image %s", tag)
	return &Image{ID: digest.Digest(inspected.ID), Tags: inspected.RepoTags}, true
}

func (b *ImageBuilder) source() (contextSource, error) {
	if b.contextDir == "" {
		return contextSource{}, &errors.MissingArgumentError{Argument: "context", Instruction: "build"}
	}
	if b.dockerfile != nil {
		return contextSource{dir: b.contextDir, inline: []byte(*b.dockerfile)}, nil
	}
	return resolveDockerfile(b.contextDir, b.dockerfilePath)
}

// decode reads the engine's JSON message stream, mirrors it to the log
// writer and returns the image ID from the aux record.
func (b *ImageBuilder) decode(r io.Reader) (digest.Digest, *BuildLog, error) {
	log := &BuildLog{}
	var id digest.Digest

	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return "", log, err
		}

		if msg.Error != nil {
			return "", log, msg.Error
		}

		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				id = digest.Digest(aux.ID)
			}
			continue
		}

		log.Messages = append(log.Messages, msg)
		if b.logWriter != nil {
			if err := msg.Display(b.logWriter, false); err != nil {
				return "", log, err
			}
		}
	}

	return id, log, nil
}

// TimeoutError reports a build whose engine stream stalled.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "no build output for " + e.Timeout.String()
}
