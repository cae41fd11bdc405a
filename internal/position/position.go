// Package position locates tokens, syntax nodes and diagnostics in paraFlow
// source. The lexer stamps every token with a Span, the parser unions token
// spans into node spans, and a CompileError carries the start of the span it
// blames.
package position

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Position is a point in a source file. Line and Column count from 1 and
// Offset counts bytes from 0. The zero Position is unknown.
type Position struct {
	Filename string
	Line     int
	Column   int
	Offset   int
}

// IsValid reports whether p points into a file.
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0 && p.Offset >= 0
}

// String renders p as base:line:col, or line:col without a file name.
func (p Position) String() string {
	if p.Filename == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}

	return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
}

// Span covers the text from Start up to but not including End.
type Span struct {
	Start Position
	End   Position
}

// IsValid reports whether s covers text of one file.
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename &&
		s.Start.Offset <= s.End.Offset
}

// String renders s as base:line:col-line:col.
func (s Span) String() string {
	if !s.IsValid() {
		return "-"
	}

	return fmt.Sprintf("%s-%d:%d", s.Start, s.End.Line, s.End.Column)
}

// Union covers s and other. An invalid span, or one from another file,
// leaves the other unchanged.
func (s Span) Union(other Span) Span {
	switch {
	case !s.IsValid():
		return other
	case !other.IsValid(), s.Start.Filename != other.Start.Filename:
		return s
	}

	u := s
	if other.Start.Offset < u.Start.Offset {
		u.Start = other.Start
	}

	if other.End.Offset > u.End.Offset {
		u.End = other.End
	}

	return u
}

// SourceFile keeps the text of a compiled file so diagnostics can quote it
type SourceFile struct {
	Filename string
	Content  string
	lines    []string
}

// NewSourceFile creates a new source file from content
func NewSourceFile(filename, content string) *SourceFile {
	return &SourceFile{
		Filename: filename,
		Content:  content,
		lines:    strings.Split(content, "\n"),
	}
}

// Line returns the specified line (1-based) or empty string if invalid
func (sf *SourceFile) Line(n int) string {
	if n < 1 || n > len(sf.lines) {
		return ""
	}
	return strings.TrimRight(sf.lines[n-1], "\r")
}

// Excerpt renders the line holding pos with a caret under the column.
func (sf *SourceFile) Excerpt(pos Position) string {
	line := sf.Line(pos.Line)
	if line == "" || pos.Column < 1 {
		return ""
	}

	var pad strings.Builder
	for i, r := range line {
		if i >= pos.Column-1 {
			break
		}
		if r == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}

	return fmt.Sprintf("%4d | %s\n     | %s^", pos.Line, line, pad.String())
}
