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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distribution/reference"
	"github.com/spf13/cobra"

	"github.com/ogvalt/triton-testcontainer/builder"
	"github.com/ogvalt/triton-testcontainer/cli"
	"github.com/ogvalt/triton-testcontainer/config"
	"github.com/ogvalt/triton-testcontainer/logging"
)

func newBuildCmd() *cobra.Command {
	opts := &cli.BuildCLIOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build Triton test images",
		Long: `Build one image per Dockerfile, or one image from an inline Dockerfile,
against a shared build context. Builds run in parallel up to --concurrency.

Examples:
  # Build the Dockerfile in the current directory
  tritontest build -f Dockerfile -t localhost/triton-test:latest

  # Build two variants, tagged localhost/triton-test:latest-0 and -1
  tritontest build -f cpu.Dockerfile -f gpu.Dockerfile -t localhost/triton-test

  # Check that a rendered Dockerfile builds, then remove the image
  tritontest build --dockerfile-string "$(tritontest dockerfile --pip numpy)" --rm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.Files, "file", "f", nil, "Dockerfile path, relative to the context (repeatable)")
	flags.StringVar(&opts.Inline, "dockerfile-string", "", "Inline Dockerfile content")
	flags.StringVar(&opts.Context, "context", ".", "Build context directory")
	flags.StringArrayVarP(&opts.Tags, "tag", "t", nil, "Image tag, one in total or one per Dockerfile")
	flags.StringArrayVar(&opts.BuildArgs, "build-arg", nil, "Build argument key=value (repeatable)")
	flags.StringArrayVar(&opts.Labels, "label", nil, "Image label key=value (repeatable)")
	flags.BoolVar(&opts.Remove, "rm", false, "Remove the built images before exiting")

	flags.String("platform", "", "Target platform, e.g. linux/amd64")
	flags.Bool("no-cache", false, "Do not use the build cache")
	flags.Bool("pull", false, "Always pull the base image")
	flags.Bool("reuse", false, "Skip the build when the tag already exists")
	flags.Int("concurrency", builder.DefaultMaxConcurrency, "Maximum parallel builds")
	flags.Duration("build-timeout", builder.DefaultBuildTimeout, "Abort a build after this long without output")
	flags.String("network", "", "Network mode for RUN instructions")
	flags.String("shm-size", "", "Size of /dev/shm for RUN instructions, e.g. 64m")
	flags.String("memory", "", "Memory limit for RUN instructions, e.g. 2g")
	bindConfigKey(flags, "platform", "image.platform")
	bindConfigKey(flags, "no-cache", "image.no_cache")
	bindConfigKey(flags, "pull", "image.pull")
	bindConfigKey(flags, "reuse", "image.reuse")
	bindConfigKey(flags, "concurrency", "image.concurrency")
	bindConfigKey(flags, "build-timeout", "image.timeout")
	bindConfigKey(flags, "network", "image.network_mode")
	bindConfigKey(flags, "shm-size", "image.shm_size")
	bindConfigKey(flags, "memory", "image.memory")

	return cmd
}

func runBuild(cmd *cobra.Command, opts cli.BuildCLIOptions) error {
	cfg := configFromContext(cmd)
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}
	opts.Platform = cfg.Image.Platform
	opts.NoCache = cfg.Image.NoCache
	opts.Pull = cfg.Image.Pull
	opts.Reuse = cfg.Image.Reuse
	opts.Concurrency = cfg.Image.Concurrency

	if err := cli.NewValidator().ValidateBuildOptions(opts); err != nil {
		return err
	}

	formatter, err := outputFormatter(cmd)
	if err != nil {
		return err
	}

	buildOpts, err := buildOptions(cfg.Image, opts)
	if err != nil {
		return err
	}

	count := max(len(opts.Files), 1)
	tags, err := imageTags(opts.Tags, cfg.Image.Tag, count)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	builders := make([]*builder.ImageBuilder, count)
	for i := range builders {
		bopts := []builder.Option{
			builder.WithTag(tags[i]),
			builder.WithForceRemove(cfg.Image.ForceRemove),
			builder.WithNoPrune(cfg.Image.NoPrune),
			builder.WithReuse(opts.Reuse),
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			bopts = append(bopts, builder.WithLogWriter(cmd.ErrOrStderr()))
		}

		b := builder.New(eng, bopts...)
		if opts.Inline != "" {
			b.FromString(opts.Context, opts.Inline, buildOpts)
		} else {
			b.FromPath(opts.Context, opts.Files[i], buildOpts)
		}
		builders[i] = b
	}

	if opts.Remove {
		defer func() {
			if err := builder.RemoveAll(context.WithoutCancel(ctx), builders...); err != nil {
				logging.WarnContext(ctx, "Failed to remove built images: %v", err)
			}
		}()
	}

	start := time.Now()
	images, err := builder.BuildAll(ctx, opts.Concurrency, builders...)
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	results := make([]cli.BuildResult, len(images))
	for i, img := range images {
		results[i] = cli.BuildResult{
			Tag:      builders[i].Tag(),
			ImageID:  img.ID.String(),
			Duration: elapsed.String(),
			Reused:   builders[i].Reused(),
		}
	}
	return formatter.DisplayBuildResults(ctx, results)
}

// buildOptions applies the image config section and the per-invocation
// build args and labels.
func buildOptions(cfg config.ImageConfig, opts cli.BuildCLIOptions) (builder.BuildOptions, error) {
	buildOpts, err := builder.OptionsFromConfig(cfg)
	if err != nil {
		return builder.BuildOptions{}, err
	}

	parser := cli.NewParser()
	if buildOpts.BuildArgs, err = parser.ParseBuildArgs(opts.BuildArgs); err != nil {
		return builder.BuildOptions{}, err
	}
	if buildOpts.Labels, err = parser.ParseLabels(opts.Labels); err != nil {
		return builder.BuildOptions{}, err
	}
	return buildOpts, nil
}

// imageTags returns one tag per image. A single tag shared by several
// images gets the image index appended to its tag component.
func imageTags(tags []string, fallback string, count int) ([]string, error) {
	if len(tags) == 0 {
		tags = []string{fallback}
	}
	if len(tags) == count {
		return tags, nil
	}

	named, err := reference.ParseNormalizedNamed(tags[0])
	if err != nil {
		return nil, fmt.Errorf("invalid tag %q: %w", tags[0], err)
	}
	tagged, ok := reference.TagNameOnly(named).(reference.Tagged)
	if !ok {
		return nil, fmt.Errorf("tag %q has no tag component to index", tags[0])
	}
	base := tagged.Tag()

	out := make([]string, count)
	for i := range out {
		tagged, err := reference.WithTag(reference.TrimNamed(named), fmt.Sprintf("%s-%d", base, i))
		if err != nil {
			return nil, fmt.Errorf("invalid tag %q: %w", tags[0], err)
		}
		out[i] = reference.FamiliarString(tagged)
	}
	return out, nil
}
