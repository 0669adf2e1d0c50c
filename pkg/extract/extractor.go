// Package extract turns debugger transcripts into structured program state:
// the current position and a name to binding mapping of in-scope variables.
package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/matcher"
	"github.com/willibrandon/stepscope/pkg/memory"
)

// Mode selects where addresses come from
type Mode int

const (
	// Simulated addresses come from the session's AddressSpace
	Simulated Mode = iota
	// Live addresses are queried from the running process
	Live
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "simulated"
}

// ParseMode parses "simulated" or "live"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simulated":
		return Simulated, nil
	case "live":
		return Live, nil
	default:
		return Simulated, fmt.Errorf("unknown address mode '%s'", s)
	}
}

// LiveAddress is the process's answer to an address query
type LiveAddress struct {
	Address string
	// Pointee is the element type for arrays, or the variable's type otherwise
	Pointee string
	// Count is the array length, 0 for non-arrays
	Count int
}

// Resolver looks up the real address of a variable in the running process
type Resolver interface {
	AddressOf(ctx context.Context, name string) (LiveAddress, bool)
}

// ResolverFunc adapts a function to a Resolver
type ResolverFunc func(ctx context.Context, name string) (LiveAddress, bool)

// AddressOf calls f(ctx, name)
func (f ResolverFunc) AddressOf(ctx context.Context, name string) (LiveAddress, bool) {
	return f(ctx, name)
}

// Position is where execution stopped
type Position struct {
	// Line is 0 when the transcript carried no line
	Line     int
	Function string
	File     string
	// Source is the text of the line about to execute
	Source string
	Exited bool
}

// declaration is a variable whose declaration has been executed
type declaration struct {
	binding  Binding
	length   int
	function string
}

// Extractor keeps the per-session extraction state: declarations seen in
// stepped-over source lines and the addresses assigned to them.
//
// A source line echoed by `next` is the line about to run, so declarations
// and assignments it carries are held back and applied on the following
// Advance, once execution has moved past them.
type Extractor struct {
	space   *memory.AddressSpace
	mode    Mode
	matcher *matcher.Matcher
	log     logr.Logger

	mu       sync.Mutex
	function string
	pending  []matcher.Result
	declared map[string]*declaration
	// cache holds fallback addresses for live variables the process would not resolve
	cache map[string]Binding
}

// NewExtractor creates an extractor allocating from space. prompt is the
// debugger's ready-prompt token; array elements are bounded by the space's limit.
func NewExtractor(space *memory.AddressSpace, mode Mode, prompt string, log logr.Logger) *Extractor {
	return &Extractor{
		space:    space,
		mode:     mode,
		matcher:  matcher.New(prompt, space.MaxElements()),
		log:      log.WithName("extract"),
		declared: make(map[string]*declaration),
		cache:    make(map[string]Binding),
	}
}

// Mode returns the address mode
func (e *Extractor) Mode() Mode {
	return e.mode
}

// Advance records that execution moved to the position reported in lines,
// committing the statements held back from the previous Advance.
func (e *Extractor) Advance(lines []string) Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commitLocked()

	pos := Position{Function: e.function}
	for _, line := range lines {
		if exitedPattern.MatchString(e.matcher.StripPrompt(line)) {
			pos.Exited = true
			continue
		}

		r := e.matcher.Match(line)
		switch {
		case r.Kind == matcher.FunctionMarker:
			pos.Function = r.Function
			if r.File != "" {
				pos.File = r.File
			}
			if r.Line > 0 {
				pos.Line = r.Line
			}
		case r.IsSource():
			pos.Line = r.Line
			pos.Source = r.Value
			if r.IsDeclaration() || r.Kind == matcher.Assignment {
				e.pending = append(e.pending, r)
			}
		}
	}

	if pos.Exited {
		e.pending = nil
	}
	e.function = pos.Function
	return pos
}

func (e *Extractor) commitLocked() {
	for _, r := range e.pending {
		switch r.Kind {
		case matcher.Assignment:
			e.assignLocked(r)
		default:
			e.declareLocked(r)
		}
	}
	e.pending = nil
}

func (e *Extractor) declareLocked(r matcher.Result) {
	d, ok := e.declared[r.Name]
	// re-running a declaration (loop body, recursion) keeps its storage
	if !ok || d.binding.Type != r.Type || d.length != r.Length {
		d = &declaration{binding: Binding{Name: r.Name, Type: r.Type}, length: r.Length}
		switch r.Kind {
		case matcher.ArrayDeclaration:
			d.binding.Kind = Aggregate
			d.binding.Addresses = e.space.AllocateArray(r.Name, r.Type, r.Length)
		case matcher.PointerDeclaration:
			d.binding.Kind = Pointer
			d.binding.Address = e.space.AllocateVariable(r.Name, r.Type)
		default:
			d.binding.Address = e.space.AllocateVariable(r.Name, r.Type)
		}
		e.declared[r.Name] = d
	} else {
		e.space.Bind(r.Name, d.binding.FirstAddress())
	}
	d.function = e.function

	switch r.Kind {
	case matcher.ArrayDeclaration:
		d.binding.Elements = fitElements(r.Elements, len(d.binding.Addresses), r.Type)
	case matcher.PointerDeclaration:
		d.binding.Value = e.resolvePointerLocked(r.Value)
	default:
		d.binding.Value = e.initialValue(r)
	}
	e.log.V(1).Info("Declared variable", "Name", r.Name, "Type", r.Type, "Address", d.binding.FirstAddress())
}

func (e *Extractor) assignLocked(r matcher.Result) {
	d, ok := e.declared[r.Name]
	if !ok {
		return
	}
	switch d.binding.Kind {
	case Pointer:
		d.binding.Value = e.resolvePointerLocked(r.Value)
	case Scalar:
		if v, err := normalizeScalar(r.Value); err == nil {
			d.binding.Value = v
		} else {
			d.binding.Value = r.Value
		}
	}
}

func (e *Extractor) initialValue(r matcher.Result) string {
	if r.Value == "" {
		return memory.DefaultValue(r.Type)
	}
	if r.Type == "char" {
		return charValue(r.Value)
	}
	v, err := normalizeScalar(r.Value)
	if err != nil {
		return r.Value
	}
	return v
}

// resolvePointerLocked resolves a pointer initializer through the address
// table: `&x` and a bare array name both yield the recorded address.
func (e *Extractor) resolvePointerLocked(expr string) string {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "NULL", "0", "nullptr":
		return memory.FormatAddress(0)
	}
	name := strings.TrimSpace(strings.TrimPrefix(expr, "&"))
	if !identifierPattern.MatchString(name) {
		return Unresolved
	}
	if addr, ok := e.space.Lookup(name); ok {
		return addr
	}
	return Unresolved
}

// Declarations returns the variables whose declarations have executed so far
func (e *Extractor) Declarations() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := make(State, len(e.declared))
	for name, d := range e.declared {
		state[name] = d.binding.Clone()
	}
	return state
}

// Locals builds the memory state from an `info locals` reply. Lines that
// cannot be parsed are logged and skipped. resolver may be nil outside live mode.
func (e *Extractor) Locals(ctx context.Context, lines []string, resolver Resolver) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	locals := make(map[string]parsedValue)
	var order []string
	for _, line := range lines {
		line = e.matcher.StripPrompt(line)
		if line == "" || !strings.Contains(line, "=") {
			continue
		}
		if e.matcher.Match(line).IsSource() {
			continue
		}

		name, raw, err := splitAssignment(line)
		if err != nil {
			e.log.V(1).Info("Skipping line", "Line", line, "Reason", err.Error())
			continue
		}
		v, err := parseValue(raw, e.space.MaxElements())
		if err != nil {
			e.log.V(1).Info("Skipping line", "Line", line, "Reason", err.Error())
			continue
		}
		// an inner-scope shadow is listed first; keep it
		if _, seen := locals[name]; seen {
			continue
		}
		order = append(order, name)
		locals[name] = v
	}

	if e.mode == Live {
		return e.liveLocked(ctx, order, locals, resolver)
	}
	return e.simulatedLocked(locals)
}

func (e *Extractor) simulatedLocked(locals map[string]parsedValue) State {
	state := make(State)
	for name, d := range e.declared {
		if d.function != "" && e.function != "" && d.function != e.function {
			continue
		}
		b := d.binding.Clone()
		if v, ok := locals[name]; ok {
			switch b.Kind {
			case Aggregate:
				if v.kind == Aggregate && v.truncated {
					// only the printed prefix is known; the rest keeps its last value
					copy(b.Elements, v.elements)
				} else if v.kind == Aggregate {
					b.Elements = fitElements(v.elements, len(b.Addresses), b.Type)
				}
			case Scalar:
				if v.kind != Aggregate {
					b.Value = v.scalar
				}
			}
			// pointers keep the simulated target; the real value is a process address
		}
		state[name] = b
	}
	return state
}

func (e *Extractor) liveLocked(ctx context.Context, order []string, locals map[string]parsedValue, resolver Resolver) State {
	state := make(State, len(order))
	for _, name := range order {
		v := locals[name]
		b := Binding{Name: name, Kind: v.kind, Value: v.scalar}
		if d, ok := e.declared[name]; ok {
			b.Type = d.binding.Type
		}

		var live LiveAddress
		resolved := false
		if resolver != nil {
			live, resolved = resolver.AddressOf(ctx, name)
		}

		if v.kind == Aggregate {
			b.Elements = v.elements
			if b.Type == "" {
				b.Type = live.Pointee
			}
			if resolved && live.Count > 0 && !v.truncated {
				// the process knows the declared length; a shorter reply is padded
				b.Elements = fitElements(v.elements, min(live.Count, e.space.MaxElements()), b.Type)
			}
			b.Addresses = e.aggregateAddressesLocked(name, live, resolved, b.Type, len(b.Elements))
		} else {
			if b.Type == "" {
				b.Type = live.Pointee
			}
			if resolved {
				b.Address = live.Address
			} else {
				b.Address = e.fallbackLocked(name, b.Type, 0).Address
			}
		}
		state[name] = b
	}
	return state
}

// aggregateAddressesLocked offsets from the base address the process
// reported, one element width at a time.
func (e *Extractor) aggregateAddressesLocked(name string, live LiveAddress, resolved bool, elemType string, count int) []string {
	if !resolved {
		return e.fallbackLocked(name, elemType, count).Addresses
	}
	base, err := parseAddress(live.Address)
	if err != nil {
		e.log.V(1).Info("Unusable address", "Name", name, "Address", live.Address)
		return e.fallbackLocked(name, elemType, count).Addresses
	}
	width := memory.DefaultWidth
	if live.Pointee != "" {
		width = memory.Width(live.Pointee)
	}
	return memory.Offset(base, width, count)
}

// fallbackLocked allocates a simulated address for name once and reuses it
func (e *Extractor) fallbackLocked(name, typeName string, count int) Binding {
	if b, ok := e.cache[name]; ok && (count == 0 || len(b.Addresses) == count) {
		return b
	}
	b := Binding{Name: name, Type: typeName}
	if count > 0 {
		b.Kind = Aggregate
		b.Addresses = e.space.AllocateArray(name, typeName, count)
	} else {
		b.Address = e.space.AllocateVariable(name, typeName)
	}
	e.cache[name] = b
	return b
}

func parseAddress(s string) (uint64, error) {
	if !hexPattern.MatchString(s) {
		return 0, fmt.Errorf("malformed address '%s'", s)
	}
	return strconv.ParseUint(s[2:], 16, 64)
}
