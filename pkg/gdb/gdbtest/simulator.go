package gdbtest

import (
	"fmt"
	"strings"
	"sync"
)

const prompt = "(gdb) "

// Variable is a local known to the simulated program
type Variable struct {
	Name string
	// Type is the pointer type printed for `print &name`, e.g. "int *" or "int (*)[3]"
	Type    string
	Address string
}

// Stop is one place execution stops at
type Stop struct {
	Line     int
	Source   string
	Function string
	// Locals is the `info locals` reply at this stop
	Locals []string
}

// Simulator answers the command set a session uses the way gdb does
type Simulator struct {
	File      string
	Stops     []Stop
	Variables []Variable
	// ProgramOutput is printed by the program right before it exits
	ProgramOutput string
	// ExitOnFinish closes the output when the program finishes instead of printing the exit notice
	ExitOnFinish bool

	mu      sync.Mutex
	pos     int
	started bool
	exited  bool
	history int
	bpCount int
}

// Banner is what the simulator prints at startup
func (s *Simulator) Banner() string {
	return "Reading symbols from prog...\n" + prompt
}

// NewProcess starts a fake process backed by the simulator
func (s *Simulator) NewProcess() *Process {
	return NewProcess(s.Banner(), s.Handle)
}

// Handle answers one command
func (s *Simulator) Handle(command string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.File
	if file == "" {
		file = "prog.c"
	}

	switch {
	case command == "quit":
		return "", true

	case strings.HasPrefix(command, "set "):
		return prompt, false

	case strings.HasPrefix(command, "break "):
		line := 1
		if len(s.Stops) > 0 {
			line = s.Stops[0].Line
		}
		s.bpCount++
		return fmt.Sprintf("Breakpoint %d at 0x1151: file %s, line %d.\n%s", s.bpCount, file, line, prompt), false

	case command == "run":
		if len(s.Stops) == 0 {
			s.exited = true
			return "Starting program: /tmp/prog\n[Inferior 1 (process 4242) exited normally]\n" + prompt, false
		}
		s.started = true
		s.pos = 0
		st := s.Stops[0]
		return fmt.Sprintf("Starting program: /tmp/prog\n\nBreakpoint 1, %s () at %s:%d\n%d\t%s\n%s",
			fnName(st), file, st.Line, st.Line, st.Source, prompt), false

	case command == "next":
		if !s.started || s.exited {
			return "The program is not being run.\n" + prompt, false
		}
		s.pos++
		if s.pos >= len(s.Stops) {
			s.exited = true
			if s.ExitOnFinish {
				return s.ProgramOutput, true
			}
			return s.ProgramOutput + "[Inferior 1 (process 4242) exited normally]\n" + prompt, false
		}
		st := s.Stops[s.pos]
		prev := s.Stops[s.pos-1]
		out := ""
		if fnName(st) != fnName(prev) {
			out = fmt.Sprintf("%s () at %s:%d\n", fnName(st), file, st.Line)
		}
		return out + fmt.Sprintf("%d\t%s\n%s", st.Line, st.Source, prompt), false

	case command == "info locals":
		if !s.started || s.exited {
			return "No frame selected.\n" + prompt, false
		}
		locals := s.Stops[s.pos].Locals
		if len(locals) == 0 {
			return "No locals.\n" + prompt, false
		}
		return strings.Join(locals, "\n") + "\n" + prompt, false

	case strings.HasPrefix(command, "print &"):
		name := strings.TrimPrefix(command, "print &")
		if s.started && !s.exited {
			for _, v := range s.Variables {
				if v.Name == name {
					s.history++
					return fmt.Sprintf("$%d = (%s) %s\n%s", s.history, v.Type, v.Address, prompt), false
				}
			}
		}
		return fmt.Sprintf("No symbol \"%s\" in current context.\n%s", name, prompt), false
	}

	return fmt.Sprintf("Undefined command: \"%s\".  Try \"help\".\n%s", command, prompt), false
}

// Position returns the index of the current stop
func (s *Simulator) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func fnName(st Stop) string {
	if st.Function == "" {
		return "main"
	}
	return st.Function
}
