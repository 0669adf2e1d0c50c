package extract

import (
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/willibrandon/stepscope/pkg/matcher"
	"github.com/willibrandon/stepscope/pkg/memory"
)

// FromSource lays out the variables declared in source without running it.
// Lines are taken as executed once each, top to bottom, so a later assignment
// updates the value a declaration started with. Addresses come from space.
func FromSource(source string, space *memory.AddressSpace, log logr.Logger) State {
	e := NewExtractor(space, Simulated, matcher.Prompt, log)
	for i, line := range strings.Split(source, "\n") {
		e.Advance([]string{strconv.Itoa(i+1) + "\t" + strings.TrimSuffix(line, "\r")})
	}
	// commit whatever the last line declared
	e.Advance(nil)
	return e.Declarations()
}
