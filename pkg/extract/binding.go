package extract

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the shape of a binding's value
type Kind int

const (
	Scalar Kind = iota
	Aggregate
	Pointer
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case Aggregate:
		return "aggregate"
	case Pointer:
		return "pointer"
	default:
		return "scalar"
	}
}

// Unresolved is the value of a pointer whose target has no recorded address
const Unresolved = "<unresolved>"

// Binding is one variable in a snapshot. Scalars and pointers use Value and
// Address; aggregates use Elements and Addresses, which always have the same length.
type Binding struct {
	Name      string
	Type      string
	Kind      Kind
	Value     string
	Elements  []string
	Address   string
	Addresses []string
}

type bindingJSON struct {
	Type    string          `json:"type,omitempty"`
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Address json.RawMessage `json:"address"`
}

// MarshalJSON renders the binding as {value, address}, where both are arrays for aggregates
func (b Binding) MarshalJSON() ([]byte, error) {
	var value, address any = b.Value, b.Address
	if b.Kind == Aggregate {
		value, address = nonNil(b.Elements), nonNil(b.Addresses)
	}

	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	a, err := json.Marshal(address)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bindingJSON{Type: b.Type, Kind: b.Kind.String(), Value: v, Address: a})
}

// UnmarshalJSON reads the form written by MarshalJSON. The name is the key
// of the enclosing State and is filled in by State.UnmarshalJSON.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw bindingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.Type = raw.Type
	switch raw.Kind {
	case "aggregate":
		b.Kind = Aggregate
		if err := json.Unmarshal(raw.Value, &b.Elements); err != nil {
			return fmt.Errorf("invalid aggregate value: %w", err)
		}
		if err := json.Unmarshal(raw.Address, &b.Addresses); err != nil {
			return fmt.Errorf("invalid aggregate address: %w", err)
		}
		return nil
	case "pointer":
		b.Kind = Pointer
	default:
		b.Kind = Scalar
	}

	if err := json.Unmarshal(raw.Value, &b.Value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if err := json.Unmarshal(raw.Address, &b.Address); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}

// Clone returns a deep copy
func (b Binding) Clone() Binding {
	b.Elements = append([]string(nil), b.Elements...)
	b.Addresses = append([]string(nil), b.Addresses...)
	return b
}

// FirstAddress returns the binding's address, or its first element's address for aggregates
func (b Binding) FirstAddress() string {
	if b.Kind == Aggregate {
		if len(b.Addresses) == 0 {
			return ""
		}
		return b.Addresses[0]
	}
	return b.Address
}

// State maps variable names to their bindings
type State map[string]Binding

// UnmarshalJSON restores binding names from the map keys
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]Binding
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = make(State, len(raw))
	for name, b := range raw {
		b.Name = name
		(*s)[name] = b
	}
	return nil
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Sorted returns the bindings ordered by address, then name
func (s State) Sorted() []Binding {
	out := make([]Binding, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].FirstAddress(), out[j].FirstAddress()
		if len(ai) != len(aj) {
			return len(ai) < len(aj)
		}
		if ai != aj {
			return ai < aj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
