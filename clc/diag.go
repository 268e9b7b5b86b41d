package clc

import (
	"fmt"
	"strings"
)

// Pos is a position in the concatenated program source. Line and Col are 1-based.
type Pos struct {
	Line, Col int
}

// String implements fmt.Stringer.
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one message of the compiler.
type Diagnostic struct {
	Pos      Pos
	Severity Severity
	Msg      string
}

// Diagnostics is the list of messages issued by a compilation, in the order they were found.
type Diagnostics struct {
	List []Diagnostic

	// lines of the source, used to quote the offending line in Log.
	lines []string
}

func (d *Diagnostics) errorf(pos Pos, format string, args ...any) {
	d.List = append(d.List, Diagnostic{Pos: pos, Severity: SeverityError, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diagnostics) warnf(pos Pos, format string, args ...any) {
	d.List = append(d.List, Diagnostic{Pos: pos, Severity: SeverityWarning, Msg: fmt.Sprintf(format, args...)})
}

// HasErrors returns whether any of the diagnostics is an error.
func (d *Diagnostics) HasErrors() bool {
	if d == nil {
		return false
	}
	for _, diag := range d.List {
		if diag.Severity == SeverityError {
			return true
		}
	}
	return false
}

// NumErrors returns the number of error diagnostics.
func (d *Diagnostics) NumErrors() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, diag := range d.List {
		if diag.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Log formats the diagnostics the way a build log is presented: one message per diagnostic, quoting the
// source line with a caret under the offending column, followed by a summary line.
// It returns "" if there are no diagnostics.
func (d *Diagnostics) Log() string {
	if d == nil || len(d.List) == 0 {
		return ""
	}
	var sb strings.Builder
	numWarnings := 0
	for _, diag := range d.List {
		if diag.Severity == SeverityWarning {
			numWarnings++
		}
		fmt.Fprintf(&sb, "<source>:%d:%d: %s: %s\n", diag.Pos.Line, diag.Pos.Col, diag.Severity, diag.Msg)
		if diag.Pos.Line >= 1 && diag.Pos.Line <= len(d.lines) {
			line := d.lines[diag.Pos.Line-1]
			sb.WriteString(line)
			sb.WriteByte('\n')
			caret := diag.Pos.Col - 1
			if caret > len(line) {
				caret = len(line)
			}
			// Keep tabs so the caret lines up with the quoted text.
			for _, c := range line[:max(caret, 0)] {
				if c == '\t' {
					sb.WriteByte('\t')
				} else {
					sb.WriteByte(' ')
				}
			}
			sb.WriteString("^\n")
		}
	}
	numErrors := d.NumErrors()
	switch {
	case numErrors > 0 && numWarnings > 0:
		fmt.Fprintf(&sb, "%s and %s generated.\n", plural(numWarnings, "warning"), plural(numErrors, "error"))
	case numErrors > 0:
		fmt.Fprintf(&sb, "%s generated.\n", plural(numErrors, "error"))
	default:
		fmt.Fprintf(&sb, "%s generated.\n", plural(numWarnings, "warning"))
	}
	return sb.String()
}

// plural formats a count as clang does, e.g. "1 error" or "2 errors".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Error makes Diagnostics usable as an error: it returns the full Log.
func (d *Diagnostics) Error() string {
	return d.Log()
}
