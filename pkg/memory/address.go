package memory

import (
	"fmt"
	"sync"
)

const (
	// DefaultBase is where the simulated address cursor starts
	DefaultBase uint64 = 0x1000
	// DefaultMaxElements bounds how many elements of one array are tracked
	DefaultMaxElements = 4096
)

// FormatAddress renders an address as lowercase, 0x-prefixed hex zero padded to at least 6 digits
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("0x%06x", addr)
}

// AddressSpace is a simulated memory: a monotonically increasing cursor plus
// a table of the most recent address handed out for each variable name.
// Arrays longer than the element limit still take their full declared width,
// but only the first maxElements element addresses are handed out.
//
// Each session owns its own AddressSpace, so concurrent sessions never
// observe each other's allocations.
type AddressSpace struct {
	mu          sync.Mutex
	cursor      uint64
	maxElements int
	table       map[string]string
}

// NewAddressSpace creates an address space whose first allocation is at base.
// maxElements <= 0 means DefaultMaxElements.
func NewAddressSpace(base uint64, maxElements int) *AddressSpace {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &AddressSpace{
		cursor:      base,
		maxElements: maxElements,
		table:       make(map[string]string),
	}
}

// MaxElements returns the per-array element limit
func (s *AddressSpace) MaxElements() int {
	return s.maxElements
}

// Allocate reserves Width(typeName) bytes and returns the start address
func (s *AddressSpace) Allocate(typeName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(Width(typeName))
}

// AllocateSequence reserves count contiguous elements of typeName and returns
// one address per element, each Width(typeName) bytes after the previous.
// At most MaxElements addresses are returned; the cursor always moves past
// all count elements.
func (s *AddressSpace) AllocateSequence(typeName string, count int) []string {
	if count <= 0 {
		return []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	width := Width(typeName)
	start := s.cursor
	addrs := Offset(start, width, min(count, s.maxElements))
	s.cursor = start + uint64(width)*uint64(count)
	return addrs
}

func (s *AddressSpace) allocateLocked(width int) string {
	addr := FormatAddress(s.cursor)
	s.cursor += uint64(width)
	return addr
}

// Bind records addr as the current address of name
func (s *AddressSpace) Bind(name, addr string) {
	s.mu.Lock()
	s.table[name] = addr
	s.mu.Unlock()
}

// AllocateVariable allocates a scalar (or pointer) and binds it to name
func (s *AddressSpace) AllocateVariable(name, typeName string) string {
	addr := s.Allocate(typeName)
	s.Bind(name, addr)
	return addr
}

// AllocateArray allocates count elements and binds name to the first one
func (s *AddressSpace) AllocateArray(name, elemType string, count int) []string {
	addrs := s.AllocateSequence(elemType, count)
	if len(addrs) > 0 {
		s.Bind(name, addrs[0])
	}
	return addrs
}

// Lookup returns the address most recently bound to name
func (s *AddressSpace) Lookup(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.table[name]
	return addr, ok
}

// Cursor returns the next address that would be allocated
func (s *AddressSpace) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Offset returns count addresses starting at base, each width bytes apart.
// Used when the base address comes from the live process instead of the cursor.
func Offset(base uint64, width, count int) []string {
	if width <= 0 {
		width = DefaultWidth
	}
	addrs := make([]string, count)
	for i := range addrs {
		addrs[i] = FormatAddress(base + uint64(i*width))
	}
	return addrs
}
