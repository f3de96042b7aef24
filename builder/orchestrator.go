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
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ogvalt/triton-testcontainer/errors"
	"github.com/ogvalt/triton-testcontainer/logging"
)

// DefaultMaxConcurrency is the default number of parallel builds.
const DefaultMaxConcurrency = 2

// BuildAll builds several images in parallel with at most maxConcurrency
// builds in flight. Each ImageBuilder must be distinct. Results are in
// input order; on failure the first error is returned and in-flight builds
// are cancelled.
func BuildAll(ctx context.Context, maxConcurrency int, builders ...*ImageBuilder) ([]*Image, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	logging.InfoContext(ctx, "Building %d images (concurrency %d)", len(builders), maxConcurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	images := make([]*Image, len(builders))
	for i, b := range builders {
		g.Go(func() error {
			img, _, err := b.Build(ctx)
			if err != nil {
				logging.ErrorContext(ctx, "Failed to build %s: %v", b.Tag(), err)
				return errors.Wrap("build image", b.Tag(), err)
			}
			images[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return images, err
	}
	return images, nil
}

// RemoveAll removes every image built by builders, returning the first
// error after attempting all removals.
func RemoveAll(ctx context.Context, builders ...*ImageBuilder) error {
	var first error
	for _, b := range builders {
		if err := b.Remove(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
