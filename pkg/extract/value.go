package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/willibrandon/stepscope/pkg/memory"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	repeatsPattern    = regexp.MustCompile(`^(.*?)\s*<repeats (\d+) times>$`)
	hexPattern        = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)
	exitedPattern     = regexp.MustCompile(`\[Inferior \d+ \(process \d+\) exited|^Program (terminated|exited)`)
)

var errEmptyValue = errors.New("empty value")

// truncationMarker ends an aggregate the debugger cut short at its print limit
const truncationMarker = "..."

// parsedValue is a value reported by the debugger
type parsedValue struct {
	kind     Kind
	scalar   string
	elements []string
	// truncated means elements is a prefix of the real value
	truncated bool
}

// parseValue interprets the right-hand side of a `name = value` line.
// Aggregates keep at most limit elements.
func parseValue(raw string, limit int) (parsedValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return parsedValue{}, errEmptyValue
	}
	if strings.HasPrefix(raw, "=") {
		return parsedValue{}, fmt.Errorf("malformed value '%s'", raw)
	}

	switch {
	case strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}"):
		inner := raw[1 : len(raw)-1]
		if strings.ContainsAny(inner, "{}=") {
			// nested aggregates and structs are reported as opaque text
			return parsedValue{kind: Scalar, scalar: raw}, nil
		}
		elements, truncated, err := splitAggregate(inner, limit)
		if err != nil {
			return parsedValue{}, err
		}
		return parsedValue{kind: Aggregate, elements: elements, truncated: truncated}, nil

	case strings.HasPrefix(raw, `"`):
		elements, truncated, err := splitAggregate(raw, limit)
		if err != nil {
			return parsedValue{}, err
		}
		return parsedValue{kind: Aggregate, elements: elements, truncated: truncated}, nil

	case strings.HasPrefix(raw, "0x"):
		// pointers may carry a symbol or string suffix: 0x4019db <__do_global_ctors+43>
		addr, err := normalizeAddress(strings.Fields(raw)[0])
		if err != nil {
			return parsedValue{}, err
		}
		return parsedValue{kind: Pointer, scalar: addr}, nil
	}

	scalar, err := elementValue(raw)
	if err != nil {
		return parsedValue{}, err
	}
	return parsedValue{kind: Scalar, scalar: scalar}, nil
}

// normalizeAddress renders a hex address the way the allocator does
func normalizeAddress(raw string) (string, error) {
	if !hexPattern.MatchString(raw) {
		return "", fmt.Errorf("malformed address '%s'", raw)
	}
	addr, err := strconv.ParseUint(raw[2:], 16, 64)
	if err != nil {
		return "", fmt.Errorf("malformed address '%s': %w", raw, err)
	}
	return memory.FormatAddress(addr), nil
}

// normalizeScalar renders floating point values with three decimals
func normalizeScalar(raw string) (string, error) {
	if !looksFloating(raw) {
		return raw, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("malformed floating point value '%s'", raw)
	}
	return strconv.FormatFloat(f, 'f', 3, 64), nil
}

func looksFloating(raw string) bool {
	return strings.Contains(raw, ".") && !strings.ContainsAny(raw, `"'{}<> `)
}

// splitAggregate splits the inside of a brace pair (or a char array string)
// into elements, expanding `<repeats N times>` runs. It stops after limit
// elements. The result is truncated when the debugger ended the value with
// "..." or when the limit was reached first.
func splitAggregate(inner string, limit int) ([]string, bool, error) {
	inner = strings.TrimSpace(inner)
	truncated := strings.HasSuffix(inner, truncationMarker)
	inner = strings.TrimSpace(strings.TrimSuffix(inner, truncationMarker))

	var elements []string
	add := func(values ...string) bool {
		for _, v := range values {
			if len(elements) >= limit {
				truncated = true
				return false
			}
			elements = append(elements, v)
		}
		return true
	}

	for _, part := range splitTopLevel(inner) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		count := 1
		if m := repeatsPattern.FindStringSubmatch(part); m != nil {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, false, fmt.Errorf("malformed repeat count in '%s'", part)
			}
			part, count = strings.TrimSpace(m[1]), n
		}

		var values []string
		if strings.HasPrefix(part, `"`) {
			chars, err := stringChars(part)
			if err != nil {
				return nil, false, err
			}
			values = chars
		} else {
			value, err := elementValue(part)
			if err != nil {
				return nil, false, err
			}
			values = []string{value}
		}
		if len(values) == 0 {
			continue
		}

		for i := 0; i < count; i++ {
			if !add(values...) {
				return elements, true, nil
			}
		}
	}
	return elements, truncated, nil
}

// splitTopLevel splits on commas that are not inside quotes
func splitTopLevel(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote == 0 && c == ',':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// elementValue normalizes one aggregate element. gdb prints chars as `97 'a'`.
func elementValue(part string) (string, error) {
	if i := strings.Index(part, " '"); i > 0 && strings.HasSuffix(part, "'") {
		return charValue(part[i+1:]), nil
	}
	if strings.HasPrefix(part, "'") {
		return charValue(part), nil
	}
	return normalizeScalar(part)
}

func charValue(lit string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(lit, "'"), "'")
	if len(inner) == 1 {
		return inner
	}
	// escapes such as \000 have no bare-token form
	return memory.DefaultValue("char")
}

func stringChars(lit string) ([]string, error) {
	if len(lit) < 2 || !strings.HasSuffix(lit, `"`) {
		return nil, fmt.Errorf("unterminated string '%s'", lit)
	}
	body := lit[1 : len(lit)-1]
	chars := make([]string, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] != '\\' {
			chars = append(chars, string(body[i]))
			continue
		}
		// skip the escape: one char, or an octal triple like \000
		j := i + 1
		for j < len(body) && j < i+4 && body[j] >= '0' && body[j] <= '7' {
			j++
		}
		if j == i+1 && j < len(body) {
			j++
		}
		chars = append(chars, memory.DefaultValue("char"))
		i = j - 1
	}
	return chars, nil
}

// fitElements pads (with the type default) or truncates elements to n
func fitElements(elements []string, n int, typeName string) []string {
	if len(elements) >= n {
		return append([]string(nil), elements[:n]...)
	}
	out := make([]string, n)
	copy(out, elements)
	for i := len(elements); i < n; i++ {
		out[i] = memory.DefaultValue(typeName)
	}
	return out
}

// splitAssignment splits a `name = value` line
func splitAssignment(line string) (string, string, error) {
	i := strings.Index(line, "=")
	if i < 0 {
		return "", "", errors.New("no assignment")
	}
	name := strings.TrimSpace(line[:i])
	if !identifierPattern.MatchString(name) {
		return "", "", fmt.Errorf("invalid variable name '%s'", name)
	}
	return name, strings.TrimSpace(line[i+1:]), nil
}

// NormalizeScalar applies the scalar normalization used for debugger output
// to a value obtained some other way. Unparseable values are returned as is.
func NormalizeScalar(raw string) string {
	v, err := normalizeScalar(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return v
}
