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

// Package dockerfile generates Dockerfile text from structured instruction
// arguments.
//
// A Builder accumulates instructions through chained calls and renders them
// with Build. Parser directives added with Syntax and Escape are always
// emitted before any instruction, whatever the call order:
//
//	text, err := dockerfile.New().
//	    From(dockerfile.FromArgs{Image: "nvcr.io/nvidia/tritonserver:24.01-py3"}).
//	    Copy(dockerfile.CopyArgs{Sources: []string{"models"}, Dest: "/models"}).
//	    Syntax("").
//	    Build()
//
// The first error encountered is kept and every later call is a no-op, so
// a chain only needs one error check at Build.
package dockerfile

import (
	"fmt"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"

	"github.com/ogvalt/triton-testcontainer/errors"
)

const (
	// DefaultSyntax is the frontend image used when Syntax is given "".
	DefaultSyntax = "docker/dockerfile:1"

	syntaxDirective = "# syntax="
	escapeDirective = "# escape="
)

// Builder assembles a Dockerfile. The zero value is ready to use. A Builder
// is not safe for concurrent use.
type Builder struct {
	syntax string
	escape string
	lines  []string
	err    error
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Syntax sets the syntax parser directive. An empty ref selects
// DefaultSyntax. Calling Syntax again replaces the earlier reference.
func (b *Builder) Syntax(ref string) *Builder {
	if b.err != nil {
		return b
	}
	if ref == "" {
		ref = DefaultSyntax
	}
	b.syntax = ref
	return b
}

// Escape sets the escape parser directive. Only a backslash or a backtick
// is accepted; an empty string leaves the directive unset.
func (b *Builder) Escape(char string) *Builder {
	if b.err != nil || char == "" {
		return b
	}
	if char != `\` && char != "`" {
		b.err = &errors.ValidationError{Field: "escape", Value: char, Allowed: []string{`\`, "`"}}
		return b
	}
	b.escape = char
	return b
}

// AppendUserInstruction appends a complete instruction line verbatim.
func (b *Builder) AppendUserInstruction(instruction string) *Builder {
	if b.err != nil {
		return b
	}
	if strings.TrimSpace(instruction) == "" {
		b.err = &errors.MissingArgumentError{Argument: "instruction", Instruction: "USER INSTRUCTION"}
		return b
	}
	b.lines = append(b.lines, instruction)
	return b
}

// Err returns the first error recorded by the chain, if any.
func (b *Builder) Err() error {
	return b.err
}

// Lines returns the rendered lines, directives first.
func (b *Builder) Lines() ([]string, error) {
	if b.err != nil {
		return nil, b.err
	}
	lines := make([]string, 0, len(b.lines)+2)
	if b.syntax != "" {
		lines = append(lines, syntaxDirective+b.syntax)
	}
	if b.escape != "" {
		lines = append(lines, escapeDirective+b.escape)
	}
	return append(lines, b.lines...), nil
}

// Build joins the rendered lines with newlines. It does not consume the
// builder; calling it again returns the same text.
func (b *Builder) Build() (string, error) {
	lines, err := b.Lines()
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// Validate renders the Dockerfile and parses it with the BuildKit
// frontend parser, returning any syntax error it reports.
func (b *Builder) Validate() error {
	text, err := b.Build()
	if err != nil {
		return err
	}

	result, err := parser.Parse(strings.NewReader(text))
	if err != nil {
		return errors.Wrap("parse generated dockerfile", "", err)
	}
	if len(result.AST.Children) == 0 {
		return fmt.Errorf("generated dockerfile has no instructions")
	}
	return nil
}

func (b *Builder) appendLine(keyword string, raw string, render func() (string, error)) *Builder {
	if b.err != nil {
		return b
	}
	if raw != "" {
		b.lines = append(b.lines, keyword+" "+raw)
		return b
	}
	body, err := render()
	if err != nil {
		b.err = err
		return b
	}
	b.lines = append(b.lines, keyword+" "+body)
	return b
}
