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

package cli

import (
	"fmt"
	"slices"
)

// Validator validates CLI input before passing to business logic.
type Validator struct {
	parser *Parser
}

// NewValidator creates a new CLI validator.
func NewValidator() *Validator {
	return &Validator{
		parser: NewParser(),
	}
}

// ValidateBuildOptions validates build command options for correctness and
// consistency.
func (v *Validator) ValidateBuildOptions(opts BuildCLIOptions) error {
	if err := v.validatePairs("label", opts.Labels); err != nil {
		return err
	}
	if err := v.validatePairs("build-arg", opts.BuildArgs); err != nil {
		return err
	}

	// Exactly one input source
	switch {
	case len(opts.Files) == 0 && opts.Inline == "":
		return fmt.Errorf("one of --file or --dockerfile-string is required")
	case len(opts.Files) > 0 && opts.Inline != "":
		return fmt.Errorf("only one of --file or --dockerfile-string can be specified")
	}

	images := max(len(opts.Files), 1)
	if len(opts.Tags) > 1 && len(opts.Tags) != images {
		return fmt.Errorf("got %d tags for %d images: pass one tag or one per image", len(opts.Tags), images)
	}

	if opts.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", opts.Concurrency)
	}
	return nil
}

// ValidateRunOptions validates run command options.
func (v *Validator) ValidateRunOptions(opts RunCLIOptions) error {
	if err := v.validatePairs("env", opts.Env); err != nil {
		return err
	}
	if err := v.validatePairs("label", opts.Labels); err != nil {
		return err
	}
	if _, err := v.parser.ParseVolumes(opts.Volumes); err != nil {
		return err
	}

	if opts.Repository == "" {
		return fmt.Errorf("--image is required")
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", opts.Timeout)
	}
	return nil
}

// ValidateCommandOptions validates command subcommand options.
func (v *Validator) ValidateCommandOptions(opts CommandCLIOptions) error {
	if err := opts.ServerOptions().Validate(); err != nil {
		return fmt.Errorf("invalid server options: %w", err)
	}
	return nil
}

// ValidateOutputFormat checks format against the supported output formats.
func (v *Validator) ValidateOutputFormat(format string) error {
	if !slices.Contains(OutputFormats, format) {
		return fmt.Errorf("unknown output format %q (supported: %v)", format, OutputFormats)
	}
	return nil
}

// validatePairs checks that every value is in key=value format.
func (v *Validator) validatePairs(kind string, values []string) error {
	for _, value := range values {
		if !ValidateKeyValueFormat(value) {
			return fmt.Errorf("invalid %s format: %s (expected key=value)", kind, value)
		}
	}
	return nil
}
