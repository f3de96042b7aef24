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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ogvalt/triton-testcontainer/logging"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// OutputFormats lists the supported output formats.
var OutputFormats = []string{FormatText, FormatJSON, FormatYAML}

// OutputFormatter formats command output for display.
type OutputFormatter struct {
	format string
	out    io.Writer
}

// NewOutputFormatter creates a formatter writing to stdout. An empty format
// means text.
func NewOutputFormatter(format string) *OutputFormatter {
	if format == "" {
		format = FormatText
	}
	return &OutputFormatter{
		format: format,
		out:    os.Stdout,
	}
}

// SetOutput redirects the formatter to w.
func (f *OutputFormatter) SetOutput(w io.Writer) {
	f.out = w
}

// DisplayText prints a rendered artifact, such as a command line or a
// Dockerfile. Structured formats wrap it in a single-key document.
func (f *OutputFormatter) DisplayText(key, text string) error {
	if f.format == FormatText {
		_, err := fmt.Fprintln(f.out, text)
		return err
	}
	return f.encode(map[string]string{key: text})
}

// DisplayBuildResults displays build results, one row per image.
func (f *OutputFormatter) DisplayBuildResults(ctx context.Context, results []BuildResult) error {
	if f.format != FormatText {
		return f.encode(results)
	}

	logging.InfoContext(ctx, "Built %d image(s)", len(results))

	w := tabwriter.NewWriter(f.out, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, "TAG\tIMAGE ID\tDURATION\tREUSED"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Tag, shortID(r.ImageID), r.Duration, r.Reused); err != nil {
			return fmt.Errorf("failed to write build row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// DisplayContainer displays a running container and its endpoints.
func (f *OutputFormatter) DisplayContainer(info ContainerInfo) error {
	if f.format != FormatText {
		return f.encode(info)
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", shortID(info.ID)},
		{"Name", info.Name},
		{"Image", info.Image},
		{"Command", info.Command},
		{"State", info.State},
		{"HTTP", info.HTTP},
		{"gRPC", info.GRPC},
		{"Metrics", info.Metrics},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("failed to write container row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

func (f *OutputFormatter) encode(v any) error {
	switch f.format {
	case FormatJSON:
		encoder := json.NewEncoder(f.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case FormatYAML:
		encoder := yaml.NewEncoder(f.out)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unknown format: %s (supported: %v)", f.format, OutputFormats)
	}
}

// shortID trims a digest or container ID to 12 hex characters.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
