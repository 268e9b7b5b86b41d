package clc

import (
	"strings"
)

// stripComments replaces comments by spaces, keeping newlines so positions are preserved.
func stripComments(src string, diags *Diagnostics) string {
	out := []byte(src)
	line, col := 1, 1
	for i := 0; i < len(out); {
		c := out[i]
		switch {
		case c == '"' || c == '\'':
			// Skip literals, so "//" inside them is not a comment.
			quote := c
			i++
			col++
			for i < len(out) && out[i] != quote && out[i] != '\n' {
				if out[i] == '\\' && i+1 < len(out) {
					i++
					col++
				}
				i++
				col++
			}
			if i < len(out) && out[i] == quote {
				i++
				col++
			}
			continue

		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
			continue

		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			startLine, startCol := line, col
			out[i], out[i+1] = ' ', ' '
			i += 2
			col += 2
			closed := false
			for i < len(out) {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i += 2
					col += 2
					closed = true
					break
				}
				if out[i] == '\n' {
					line++
					col = 1
				} else {
					out[i] = ' '
					col++
				}
				i++
			}
			if !closed {
				diags.errorf(Pos{Line: startLine, Col: startCol}, "unterminated /* comment")
			}
			continue
		}
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
		i++
	}
	return string(out)
}

type condState struct {
	active       bool // Current branch is active.
	parentActive bool
	taken        bool // Some branch of this conditional was already active.
	sawElse      bool
	pos          Pos
}

// preprocessor handles directives line by line, and expands object-like macros on the token stream.
type preprocessor struct {
	diags      *Diagnostics
	macros     map[string][]token
	extensions map[string]bool // Extensions enabled with #pragma OPENCL EXTENSION.
}

func newPreprocessor(diags *Diagnostics, defines map[string]string) *preprocessor {
	pp := &preprocessor{
		diags:      diags,
		macros:     make(map[string][]token),
		extensions: make(map[string]bool),
	}
	for name, body := range defines {
		pp.define(name, body, Pos{})
	}
	return pp
}

func (pp *preprocessor) define(name, body string, pos Pos) {
	var scratch Diagnostics
	tokens := newLexer(body, &scratch).all()
	if scratch.HasErrors() {
		pp.diags.errorf(pos, "invalid body for macro '%s'", name)
	}
	pp.macros[name] = tokens[:len(tokens)-1] // Drop EOF.
}

// run processes the directives and returns the text with the directive lines and the lines of inactive
// conditional branches blanked out.
func (pp *preprocessor) run(src string) string {
	lines := strings.Split(src, "\n")
	var stack []condState
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}
	for lineIdx := 0; lineIdx < len(lines); lineIdx++ {
		line := lines[lineIdx]
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if !active() {
				lines[lineIdx] = ""
			} else if strings.HasSuffix(line, "\\") {
				lines[lineIdx] = line[:len(line)-1]
			}
			continue
		}

		// Directive: join continuation lines, blanking them.
		pos := Pos{Line: lineIdx + 1, Col: strings.Index(line, "#") + 1}
		directive := trimmed
		lines[lineIdx] = ""
		for strings.HasSuffix(directive, "\\") && lineIdx+1 < len(lines) {
			lineIdx++
			directive = directive[:len(directive)-1] + " " + strings.TrimSpace(lines[lineIdx])
			lines[lineIdx] = ""
		}
		directive = strings.TrimSpace(directive[1:])
		name, rest, _ := strings.Cut(directive, " ")
		if tab := strings.IndexByte(name, '\t'); tab >= 0 {
			name, rest = name[:tab], name[tab+1:]+" "+rest
		}
		rest = strings.TrimSpace(rest)

		switch name {
		case "if", "ifdef", "ifndef":
			parentActive := active()
			cond := false
			if parentActive {
				switch name {
				case "ifdef":
					_, cond = pp.macros[firstWord(rest)]
				case "ifndef":
					_, cond = pp.macros[firstWord(rest)]
					cond = !cond
				default:
					cond = pp.evalCondition(rest, pos)
				}
			}
			stack = append(stack, condState{active: parentActive && cond, parentActive: parentActive, taken: cond, pos: pos})

		case "elif":
			if len(stack) == 0 {
				pp.diags.errorf(pos, "#elif without #if")
				continue
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				pp.diags.errorf(pos, "#elif after #else")
			}
			if top.taken || !top.parentActive {
				top.active = false
				continue
			}
			cond := pp.evalCondition(rest, pos)
			top.active, top.taken = cond, cond

		case "else":
			if len(stack) == 0 {
				pp.diags.errorf(pos, "#else without #if")
				continue
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				pp.diags.errorf(pos, "#else after #else")
			}
			top.sawElse = true
			top.active = top.parentActive && !top.taken
			top.taken = true

		case "endif":
			if len(stack) == 0 {
				pp.diags.errorf(pos, "#endif without #if")
				continue
			}
			stack = stack[:len(stack)-1]

		default:
			if !active() {
				continue
			}
			pp.directive(name, rest, pos)
		}
	}
	for _, cond := range stack {
		pp.diags.errorf(cond.pos, "unterminated conditional directive")
	}
	return strings.Join(lines, "\n")
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// directive handles the non-conditional directives of active lines.
func (pp *preprocessor) directive(name, rest string, pos Pos) {
	switch name {
	case "define":
		end := 0
		for end < len(rest) && isIdentChar(rest[end]) {
			end++
		}
		if end == 0 || !isIdentStart(rest[0]) {
			pp.diags.errorf(pos, "macro name must be an identifier")
			return
		}
		macroName := rest[:end]
		if end < len(rest) && rest[end] == '(' {
			pp.diags.errorf(pos, "function-like macro '%s' is not supported", macroName)
			return
		}
		pp.define(macroName, strings.TrimSpace(rest[end:]), pos)

	case "undef":
		delete(pp.macros, firstWord(rest))

	case "pragma":
		fields := strings.Fields(strings.ReplaceAll(rest, ":", " : "))
		// #pragma OPENCL EXTENSION <name> : enable|disable
		if len(fields) == 5 && fields[0] == "OPENCL" && fields[1] == "EXTENSION" && fields[3] == ":" {
			pp.extensions[fields[2]] = fields[4] == "enable"
		}

	case "error":
		pp.diags.errorf(pos, "#error %s", rest)

	case "warning":
		pp.diags.warnf(pos, "#warning %s", rest)

	case "include":
		pp.diags.errorf(pos, "#include is not supported, concatenate the sources instead")

	case "line", "":
		// Ignored.

	default:
		pp.diags.errorf(pos, "invalid preprocessing directive '#%s'", name)
	}
}

// evalCondition evaluates the expression of #if and #elif.
func (pp *preprocessor) evalCondition(expr string, pos Pos) bool {
	var scratch Diagnostics
	raw := newLexer(expr, &scratch).all()
	if scratch.HasErrors() {
		pp.diags.errorf(pos, "invalid #if expression")
		return false
	}
	// Replace `defined X` and `defined(X)` before macro expansion.
	var replaced []token
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		if tok.kind == tokIdent && tok.text == "defined" {
			name := ""
			if i+1 < len(raw) && raw[i+1].kind == tokIdent {
				name = raw[i+1].text
				i++
			} else if i+3 < len(raw) && raw[i+1].is("(") && raw[i+2].kind == tokIdent && raw[i+3].is(")") {
				name = raw[i+2].text
				i += 3
			} else {
				pp.diags.errorf(pos, "invalid use of 'defined' in #if")
				return false
			}
			v := uint64(0)
			if _, found := pp.macros[name]; found {
				v = 1
			}
			replaced = append(replaced, token{kind: tokInt, text: "defined", intVal: v, pos: pos})
			continue
		}
		replaced = append(replaced, tok)
	}
	expanded := pp.expand(replaced)
	// Remaining identifiers evaluate to 0, as in C.
	for i := range expanded {
		if expanded[i].kind == tokIdent {
			expanded[i] = token{kind: tokInt, text: "0", pos: expanded[i].pos}
		}
	}
	var exprDiags Diagnostics
	p := newParser(expanded, &exprDiags)
	e := p.parseConditionExpr()
	if exprDiags.HasErrors() || e == nil {
		pp.diags.errorf(pos, "invalid #if expression")
		return false
	}
	v, ok := constEvalInt(e)
	if !ok {
		pp.diags.errorf(pos, "#if expression is not an integer constant")
		return false
	}
	return v != 0
}

// expand replaces macro identifiers by their bodies, recursively, taking the position of the use site.
func (pp *preprocessor) expand(tokens []token) []token {
	if len(pp.macros) == 0 {
		return tokens
	}
	out := make([]token, 0, len(tokens))
	var expandOne func(tok token, expanding map[string]bool)
	expandOne = func(tok token, expanding map[string]bool) {
		body, isMacro := pp.macros[tok.text]
		if tok.kind != tokIdent || !isMacro || expanding[tok.text] {
			out = append(out, tok)
			return
		}
		expanding[tok.text] = true
		for _, bodyTok := range body {
			bodyTok.pos = tok.pos
			expandOne(bodyTok, expanding)
		}
		delete(expanding, tok.text)
	}
	expanding := make(map[string]bool)
	for _, tok := range tokens {
		expandOne(tok, expanding)
	}
	return out
}

// CheckLexical verifies that the sources are well-formed at the lexical level: terminated comments and
// literals, valid characters and numbers. Directives are not evaluated.
// It returns nil if there are no errors.
func CheckLexical(sources []string) *Diagnostics {
	src := strings.Join(sources, "\n")
	diags := &Diagnostics{lines: strings.Split(src, "\n")}
	stripped := stripComments(src, diags)
	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			lines[i] = ""
		}
	}
	newLexer(strings.Join(lines, "\n"), diags).all()
	if diags.HasErrors() {
		return diags
	}
	return nil
}
