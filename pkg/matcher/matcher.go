// Package matcher classifies single lines of debugger output.
//
// A line echoed by the debugger may satisfy several of the looser patterns
// (every declaration is also a statement), so patterns are tried in a fixed
// order from most to least specific and the first hit wins.
package matcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/willibrandon/stepscope/pkg/memory"
)

// Kind identifies what a line was classified as
type Kind int

const (
	// Noise is anything no pattern recognised
	Noise Kind = iota
	// Declaration is a scalar declaration, with or without an initializer
	Declaration
	// ArrayDeclaration is a fixed-size array declaration
	ArrayDeclaration
	// PointerDeclaration is a single-level pointer declaration
	PointerDeclaration
	// Assignment is a plain `name = value;` source line
	Assignment
	// Statement is any other echoed source line
	Statement
	// FunctionMarker is a frame line naming the current function
	FunctionMarker
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case Declaration:
		return "Declaration"
	case ArrayDeclaration:
		return "ArrayDeclaration"
	case PointerDeclaration:
		return "PointerDeclaration"
	case Assignment:
		return "Assignment"
	case Statement:
		return "Statement"
	case FunctionMarker:
		return "FunctionMarker"
	default:
		return "Noise"
	}
}

// Result is the classification of one line plus the fields it captured
type Result struct {
	Kind Kind
	// Line is the source line number, 0 if the line carried none
	Line int
	Type string
	Name string
	// Value is the raw initializer or assigned text
	Value string
	// Length is the declared array length, -1 when the brackets were empty
	Length int
	// Elements are the array element values, padded with the type default.
	// There are min(Length, the matcher's element limit) of them.
	Elements []string
	Function string
	File     string
}

// IsDeclaration reports whether the result declares a variable
func (r Result) IsDeclaration() bool {
	return r.Kind == Declaration || r.Kind == ArrayDeclaration || r.Kind == PointerDeclaration
}

// IsSource reports whether the line is an echoed source line
func (r Result) IsSource() bool {
	return r.IsDeclaration() || r.Kind == Assignment || r.Kind == Statement
}

const (
	// Prompt is the default gdb ready-prompt token
	Prompt = "(gdb)"

	typeGroup = `(int|float|char|double|long|short)`
)

var (
	arrayPattern = regexp.MustCompile(
		`^\s*(\d+)\s+` + typeGroup + `\s+(\w+)\s*\[(\d*)\]\s*(?:=\s*(?:\{([^}]*)\}|"((?:[^"\\]|\\.)*)")\s*)?;\s*$`)
	pointerPattern = regexp.MustCompile(
		`^\s*(\d+)\s+` + typeGroup + `\s*\*\s*(\w+)\s*(?:=\s*([^;]+?))?\s*;\s*$`)
	scalarPattern = regexp.MustCompile(
		`^\s*(\d+)\s+` + typeGroup + `\s+(\w+)\s*(?:=\s*([^;]+?))?\s*;\s*$`)
	assignmentPattern = regexp.MustCompile(
		`^\s*(\d+)\s+(\w+)\s*=\s*([^=;][^;]*?)\s*;\s*$`)
	framePattern = regexp.MustCompile(
		`^(?:Breakpoint \d+, )?(?:0x[0-9a-fA-F]+ in )?(\w+) \(.*\) at (\S+):(\d+)\s*$`)
	inFunctionPattern = regexp.MustCompile(`\bin (\w+) \(`)
	statementPattern  = regexp.MustCompile(`^\s*(\d+)(?:\t(.*)|\s+(.*;)\s*)$`)
)

type matchFunc func(line string) (Result, bool)

// patterns is the fixed precedence order
var patterns = []matchFunc{
	matchArray,
	matchPointer,
	matchScalar,
	matchAssignment,
	matchFrame,
	matchStatement,
}

// Matcher classifies lines echoed behind one prompt token. Array element
// lists are bounded so a huge declared length costs no more than the limit.
type Matcher struct {
	prompt      string
	maxElements int
}

// New creates a matcher. An empty prompt means Prompt and maxElements <= 0
// means memory.DefaultMaxElements.
func New(prompt string, maxElements int) *Matcher {
	if prompt == "" {
		prompt = Prompt
	}
	if maxElements <= 0 {
		maxElements = memory.DefaultMaxElements
	}
	return &Matcher{prompt: prompt, maxElements: maxElements}
}

// Match classifies a single line. It never fails: unrecognised input is Noise.
func (m *Matcher) Match(line string) Result {
	line = m.StripPrompt(line)
	if line == "" {
		return Result{Kind: Noise}
	}
	for _, match := range patterns {
		r, ok := match(line)
		if !ok {
			continue
		}
		if r.Kind == ArrayDeclaration {
			r.Elements = padElements(r.Elements, min(r.Length, m.maxElements), r.Type)
		}
		return r
	}
	return Result{Kind: Noise}
}

// StripPrompt removes leading prompt tokens and surrounding whitespace
func (m *Matcher) StripPrompt(line string) string {
	return StripPrompt(line, m.prompt)
}

// StripPrompt removes leading occurrences of prompt and surrounding whitespace
func StripPrompt(line, prompt string) string {
	line = strings.TrimSpace(line)
	if prompt == "" {
		return line
	}
	for strings.HasPrefix(line, prompt) {
		line = strings.TrimSpace(strings.TrimPrefix(line, prompt))
	}
	return line
}

func matchArray(line string) (Result, bool) {
	m := arrayPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}

	r := Result{
		Kind:   ArrayDeclaration,
		Line:   atoi(m[1]),
		Type:   m[2],
		Name:   m[3],
		Length: -1,
	}
	if m[4] != "" {
		r.Length = atoi(m[4])
	}

	switch {
	case strings.Contains(line, "{"):
		r.Value = "{" + m[5] + "}"
		r.Elements = splitInitializer(m[5], r.Type)
	case strings.Contains(line, `"`):
		r.Value = `"` + m[6] + `"`
		r.Elements = stringElements(m[6])
		if r.Length < 0 {
			// room for the terminator
			r.Length = len(r.Elements) + 1
		}
	}

	if r.Length < 0 {
		r.Length = len(r.Elements)
	}
	return r, true
}

func matchPointer(line string) (Result, bool) {
	m := pointerPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	return Result{
		Kind:   PointerDeclaration,
		Line:   atoi(m[1]),
		Type:   m[2] + " *",
		Name:   m[3],
		Value:  strings.TrimSpace(m[4]),
		Length: -1,
	}, true
}

func matchScalar(line string) (Result, bool) {
	m := scalarPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	return Result{
		Kind:   Declaration,
		Line:   atoi(m[1]),
		Type:   m[2],
		Name:   m[3],
		Value:  strings.TrimSpace(m[4]),
		Length: -1,
	}, true
}

func matchAssignment(line string) (Result, bool) {
	m := assignmentPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	return Result{
		Kind:   Assignment,
		Line:   atoi(m[1]),
		Name:   m[2],
		Value:  strings.TrimSpace(m[3]),
		Length: -1,
	}, true
}

func matchFrame(line string) (Result, bool) {
	if m := framePattern.FindStringSubmatch(line); m != nil {
		return Result{
			Kind:     FunctionMarker,
			Line:     atoi(m[3]),
			Function: m[1],
			File:     m[2],
			Length:   -1,
		}, true
	}
	if m := inFunctionPattern.FindStringSubmatch(line); m != nil {
		return Result{Kind: FunctionMarker, Function: m[1], Length: -1}, true
	}
	return Result{}, false
}

func matchStatement(line string) (Result, bool) {
	m := statementPattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	value := m[2]
	if value == "" {
		value = m[3]
	}
	return Result{
		Kind:   Statement,
		Line:   atoi(m[1]),
		Value:  strings.TrimSpace(value),
		Length: -1,
	}, true
}

func splitInitializer(raw, typeName string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	elements := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if typeName == "char" {
			p = charElement(p)
		}
		elements = append(elements, p)
	}
	return elements
}

// charElement unwraps a character literal; escapes collapse to the char default
func charElement(lit string) string {
	if len(lit) >= 2 && lit[0] == '\'' && lit[len(lit)-1] == '\'' {
		inner := lit[1 : len(lit)-1]
		if len(inner) == 1 {
			return inner
		}
		return memory.DefaultValue("char")
	}
	return lit
}

func stringElements(s string) []string {
	elements := make([]string, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '0' {
				elements = append(elements, memory.DefaultValue("char"))
				continue
			}
			elements = append(elements, unescape(s[i]))
			continue
		}
		elements = append(elements, string(s[i]))
	}
	return elements
}

func unescape(c byte) string {
	switch c {
	case 'n', 't', 'r':
		// control characters are not representable as bare tokens either
		return memory.DefaultValue("char")
	default:
		return string(c)
	}
}

func padElements(elements []string, length int, typeName string) []string {
	if length < len(elements) {
		return elements[:length]
	}
	out := make([]string, length)
	copy(out, elements)
	def := memory.DefaultValue(typeName)
	for i := len(elements); i < length; i++ {
		out[i] = def
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
