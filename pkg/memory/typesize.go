package memory

import "strings"

const (
	// DefaultWidth is used for any type the table does not know
	DefaultWidth = 4
	// PointerWidth is the width of every pointer, regardless of the pointee type
	PointerWidth = 8
)

// typeWidths maps primitive C type names to their byte width
var typeWidths = map[string]int{
	"char":      1,
	"short":     2,
	"int":       4,
	"unsigned":  4,
	"float":     4,
	"long":      8,
	"double":    8,
	"long long": 8,
}

// defaultValues holds the value an element of each type takes when an
// aggregate is declared with an empty initializer. The null character cannot
// be carried as a bare token through the debugger output, so char uses a space.
var defaultValues = map[string]string{
	"char":   " ",
	"float":  "0.000",
	"double": "0.000",
}

// Width returns the byte width of the named type. Pointer types (any name
// ending in '*') are PointerWidth wide; unknown types are DefaultWidth.
func Width(typeName string) int {
	typeName = normalizeType(typeName)
	if strings.HasSuffix(typeName, "*") {
		return PointerWidth
	}
	if w, ok := typeWidths[typeName]; ok {
		return w
	}
	return DefaultWidth
}

// DefaultValue returns the textual zero value for an element of the named type
func DefaultValue(typeName string) string {
	if v, ok := defaultValues[normalizeType(typeName)]; ok {
		return v
	}
	return "0"
}

func normalizeType(typeName string) string {
	typeName = strings.TrimSpace(typeName)
	typeName = strings.TrimPrefix(typeName, "const ")
	typeName = strings.TrimPrefix(typeName, "signed ")
	if strings.HasPrefix(typeName, "unsigned ") {
		typeName = strings.TrimPrefix(typeName, "unsigned ")
	}
	return strings.Join(strings.Fields(typeName), " ")
}
