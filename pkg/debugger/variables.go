package debugger

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-delve/delve/service/api"

	"github.com/willibrandon/stepscope/pkg/extract"
	"github.com/willibrandon/stepscope/pkg/memory"
)

// State converts the variables of one frame into a memory state. Shadowed
// variables and ones Delve could not read are left out.
func State(vars []api.Variable) extract.State {
	state := make(extract.State, len(vars))
	for _, v := range vars {
		if v.Flags&api.VariableShadowed != 0 || v.Unreadable != "" {
			continue
		}
		if _, seen := state[v.Name]; seen {
			continue
		}
		state[v.Name] = ToBinding(v)
	}
	return state
}

// ToBinding converts one Delve variable. Element addresses of arrays and
// slices are the ones Delve reports, not computed offsets.
func ToBinding(v api.Variable) extract.Binding {
	b := extract.Binding{
		Name:    v.Name,
		Type:    v.Type,
		Address: memory.FormatAddress(v.Addr),
	}

	switch v.Kind {
	case reflect.Array, reflect.Slice:
		b.Kind = extract.Aggregate
		b.Address = ""
		b.Elements = make([]string, len(v.Children))
		b.Addresses = make([]string, len(v.Children))
		for i, c := range v.Children {
			b.Elements[i] = formatValue(c)
			b.Addresses[i] = memory.FormatAddress(c.Addr)
		}

	case reflect.Ptr, reflect.UnsafePointer:
		b.Kind = extract.Pointer
		b.Value = pointerTarget(v)

	default:
		b.Kind = extract.Scalar
		b.Value = formatValue(v)
	}
	return b
}

func pointerTarget(v api.Variable) string {
	if len(v.Children) > 0 && v.Children[0].Addr != 0 {
		return memory.FormatAddress(v.Children[0].Addr)
	}
	if v.Value != "" {
		if n, err := strconv.ParseUint(strings.TrimPrefix(v.Value, "0x"), 16, 64); err == nil {
			return memory.FormatAddress(n)
		}
	}
	return memory.FormatAddress(0)
}

func formatValue(v api.Variable) string {
	switch v.Kind {
	case reflect.String:
		return strconv.Quote(v.Value)
	case reflect.Float32, reflect.Float64:
		return extract.NormalizeScalar(v.Value)
	case reflect.Struct:
		fields := make([]string, len(v.Children))
		for i, c := range v.Children {
			fields[i] = c.Name + ": " + formatValue(c)
		}
		return "{" + strings.Join(fields, ", ") + "}"
	case reflect.Array, reflect.Slice:
		elems := make([]string, len(v.Children))
		for i, c := range v.Children {
			elems[i] = formatValue(c)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case reflect.Ptr, reflect.UnsafePointer:
		return pointerTarget(v)
	}
	if v.Value == "" && v.Unreadable != "" {
		return fmt.Sprintf("<%s>", v.Unreadable)
	}
	return v.Value
}
