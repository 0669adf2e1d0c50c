package debugger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// BreakpointType defines the type of breakpoint
type BreakpointType int

const (
	// LocationBreakpoint breaks at a specific file:line
	LocationBreakpoint BreakpointType = iota
	// FunctionBreakpoint breaks at a function entry
	FunctionBreakpoint
)

// String returns the string representation of the BreakpointType
func (t BreakpointType) String() string {
	if t == FunctionBreakpoint {
		return "function"
	}
	return "location"
}

// Breakpoint represents a location to stop at during debugging
type Breakpoint struct {
	ID       int
	Type     BreakpointType
	File     string // For LocationBreakpoint
	Line     int    // For LocationBreakpoint
	Function string // For FunctionBreakpoint
	Enabled  bool
	// Installed is the id the debugger assigned, 0 until it confirmed the breakpoint
	Installed int
}

// Location renders the breakpoint the way gdb's break command accepts it
func (bp *Breakpoint) Location() string {
	if bp.Type == FunctionBreakpoint {
		return bp.Function
	}
	if bp.File == "" {
		return strconv.Itoa(bp.Line)
	}
	return bp.File + ":" + strconv.Itoa(bp.Line)
}

// ParseLocation parses `file:line`, a bare line number, `func:name` or a bare function name
func ParseLocation(location string) (*Breakpoint, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("empty breakpoint location")
	}

	bp := &Breakpoint{Enabled: true}
	switch {
	case strings.HasPrefix(location, "func:"):
		bp.Type = FunctionBreakpoint
		bp.Function = strings.TrimPrefix(location, "func:")
		if bp.Function == "" {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}

	case strings.Contains(location, ":"):
		bp.Type = LocationBreakpoint
		// Find the last colon to handle Windows paths (e.g., C:/path/to/file.c:42)
		lastColonIndex := strings.LastIndex(location, ":")
		bp.File = location[:lastColonIndex]
		line, err := strconv.Atoi(location[lastColonIndex+1:])
		if err != nil || line <= 0 {
			return nil, fmt.Errorf("invalid line number in '%s'", location)
		}
		bp.Line = line

	default:
		if line, err := strconv.Atoi(location); err == nil {
			if line <= 0 {
				return nil, fmt.Errorf("invalid line number in '%s'", location)
			}
			bp.Type = LocationBreakpoint
			bp.Line = line
			break
		}
		if !functionNamePattern.MatchString(location) {
			return nil, fmt.Errorf("invalid location format: %s", location)
		}
		bp.Type = FunctionBreakpoint
		bp.Function = location
	}
	return bp, nil
}

var functionNamePattern = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)

// installedPattern matches gdb's confirmation of a new breakpoint,
// e.g. `Breakpoint 2 at 0x1151: file prog.c, line 5.`
var installedPattern = regexp.MustCompile(`Breakpoint (\d+) at 0x[0-9a-fA-F]+(?:: file (\S+), line (\d+)\.)?`)

// ParseInstalled extracts the debugger's breakpoint id from a `break` reply
func ParseInstalled(lines []string) (id int, file string, line int, ok bool) {
	for _, l := range lines {
		m := installedPattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		id, _ = strconv.Atoi(m[1])
		file = m[2]
		line, _ = strconv.Atoi(m[3])
		return id, file, line, true
	}
	return 0, "", 0, false
}

// BreakpointManager manages breakpoints for the debugger
type BreakpointManager struct {
	mu          sync.Mutex
	breakpoints []*Breakpoint
	nextID      int
}

// NewBreakpointManager creates a new breakpoint manager
func NewBreakpointManager() *BreakpointManager {
	return &BreakpointManager{
		breakpoints: make([]*Breakpoint, 0),
		nextID:      1,
	}
}

// AddBreakpoint adds a breakpoint at the specified location
func (bm *BreakpointManager) AddBreakpoint(location string) (*Breakpoint, error) {
	bp, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bp.ID = bm.nextID
	bm.nextID++
	bm.breakpoints = append(bm.breakpoints, bp)
	return bp, nil
}

// MarkInstalled records the id the debugger assigned to a breakpoint
func (bm *BreakpointManager) MarkInstalled(id, installed int) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Installed = installed
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// GetBreakpoints returns a copy of all breakpoints
func (bm *BreakpointManager) GetBreakpoints() []Breakpoint {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	out := make([]Breakpoint, len(bm.breakpoints))
	for i, bp := range bm.breakpoints {
		out[i] = *bp
	}
	return out
}

// Enabled returns the enabled breakpoints in the order they were added
func (bm *BreakpointManager) Enabled() []Breakpoint {
	var out []Breakpoint
	for _, bp := range bm.GetBreakpoints() {
		if bp.Enabled {
			out = append(out, bp)
		}
	}
	return out
}

// RemoveBreakpoint removes a breakpoint by ID
func (bm *BreakpointManager) RemoveBreakpoint(id int) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for i, bp := range bm.breakpoints {
		if bp.ID == id {
			bm.breakpoints = append(bm.breakpoints[:i], bm.breakpoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// EnableBreakpoint enables a breakpoint by ID
func (bm *BreakpointManager) EnableBreakpoint(id int) error {
	return bm.setEnabled(id, true)
}

// DisableBreakpoint disables a breakpoint by ID
func (bm *BreakpointManager) DisableBreakpoint(id int) error {
	return bm.setEnabled(id, false)
}

func (bm *BreakpointManager) setEnabled(id int, enabled bool) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, bp := range bm.breakpoints {
		if bp.ID == id {
			bp.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("breakpoint %d not found", id)
}

// CheckBreakpoint reports whether an enabled breakpoint covers the given stop
func (bm *BreakpointManager) CheckBreakpoint(file string, line int, function string) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, bp := range bm.breakpoints {
		if !bp.Enabled {
			continue
		}
		switch bp.Type {
		case FunctionBreakpoint:
			if function == bp.Function || strings.HasSuffix(function, "."+bp.Function) {
				return true
			}
		case LocationBreakpoint:
			if bp.Line == line && (bp.File == "" || file == "" || sameFile(bp.File, file)) {
				return true
			}
		}
	}
	return false
}

func sameFile(a, b string) bool {
	a, b = strings.ReplaceAll(a, "\\", "/"), strings.ReplaceAll(b, "\\", "/")
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}
