package gdb

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/willibrandon/stepscope/pkg/matcher"
)

// addressReplyPattern matches a value-history reply to `print &name`,
// e.g. `$3 = (int (*)[3]) 0x7fffffffe3c0`
var addressReplyPattern = regexp.MustCompile(`^\$(\d+) = \((.+)\) (0x[0-9a-fA-F]+)`)

var (
	aggregatePointerPattern = regexp.MustCompile(`^(.+?)\s*\(\*\)\[(\d+)\]$`)
	noSymbolPattern         = regexp.MustCompile(`^No symbol "(.+)" in current context\.$`)
)

// AddressReply is a resolved address query
type AddressReply struct {
	ID      int
	Name    string
	Type    string
	Address string
}

// Pointee returns the type the replied pointer points at and, for pointers to
// arrays, the array length (0 otherwise).
func (r AddressReply) Pointee() (string, int) {
	if m := aggregatePointerPattern.FindStringSubmatch(r.Type); m != nil {
		n, _ := strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), n
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(r.Type), "*")), 0
}

// Query is one address query awaiting its reply. ID is the value-history
// index the reply is expected to carry.
type Query struct {
	ID      int
	Name    string
	Command string
}

// Resolution is the outcome of matching a transcript against a query
type Resolution int

const (
	// Resolved means the query's own reply was found
	Resolved Resolution = iota
	// Awaiting means the transcript held only late replies to earlier queries;
	// the query's reply is still to come
	Awaiting
	// Rejected means the debugger answered the query with an error and did
	// not use its history index
	Rejected
	// Abandoned means the collection ended before the query was answered. Its
	// index stays reserved so a late reply cannot be taken for another query.
	Abandoned
)

// Correlator matches address-query replies to the queries that produced
// them by value-history index instead of by content, since every reply has
// the same textual shape. The debugger numbers successful prints $1, $2, ...
// and every issued query reserves the next index. Only one query may be in
// flight at a time; queries abandoned earlier are remembered as outstanding
// until their late reply (or error) shows up.
type Correlator struct {
	mu          sync.Mutex
	prompt      string
	next        int
	outstanding map[int]string
}

// NewCorrelator creates a correlator expecting the first reply to be $1.
// prompt is stripped from the front of reply lines.
func NewCorrelator(prompt string) *Correlator {
	return &Correlator{
		prompt:      prompt,
		next:        1,
		outstanding: make(map[int]string),
	}
}

// Issue reserves the next history index for a query on the address of name
func (c *Correlator) Issue(name string) *Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := &Query{ID: c.next, Name: name, Command: "print &" + name}
	c.next++
	return q
}

// Resolve matches the lines collected for q. Replies to abandoned queries
// are discarded. Any other reply must be the one in flight, so it is taken
// and the expected index resynchronized to it. q.ID moves down when an
// abandoned query turns out to have failed, since the debugger never used
// that index. A failure of q itself gives its index back.
func (c *Correlator) Resolve(q *Query, t Transcript) (AddressReply, Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, line := range t.Lines {
		line = matcher.StripPrompt(line, c.prompt)
		if line == "" {
			continue
		}

		if m := addressReplyPattern.FindStringSubmatch(line); m != nil {
			replyID, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if _, late := c.outstanding[replyID]; late {
				delete(c.outstanding, replyID)
				continue
			}
			// The debugger answers in order, so every earlier query is settled
			q.ID = replyID
			c.next = replyID + 1
			clear(c.outstanding)
			return AddressReply{
				ID:      replyID,
				Name:    q.Name,
				Type:    m[2],
				Address: strings.ToLower(m[3]),
			}, Resolved
		}

		if m := noSymbolPattern.FindStringSubmatch(line); m != nil && m[1] != q.Name {
			c.releaseOutstandingLocked(m[1], q)
			continue
		}
		if isAddressError(line, q.Name) {
			// The debugger did not use the index; give it back
			if q.ID == c.next-1 {
				c.next--
			}
			return AddressReply{}, Rejected
		}
	}

	if !t.Matched {
		c.outstanding[q.ID] = q.Name
		return AddressReply{}, Abandoned
	}
	// The prompt belonged to something earlier
	return AddressReply{}, Awaiting
}

// isAddressError reports whether line is the debugger refusing `print &name`
func isAddressError(line, name string) bool {
	if m := noSymbolPattern.FindStringSubmatch(line); m != nil {
		return m[1] == name
	}
	for _, prefix := range addressErrors {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

var addressErrors = []string{
	"Attempt to take address of",
	"Can't take address of",
	"Cannot access memory at address",
	"No frame selected.",
	"No symbol table is loaded.",
}

// releaseOutstandingLocked forgets the oldest outstanding query on name,
// which failed after it was abandoned, and moves every later index down by one.
func (c *Correlator) releaseOutstandingLocked(name string, q *Query) {
	ids := make([]int, 0, len(c.outstanding))
	for id := range c.outstanding {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	released := -1
	for _, id := range ids {
		if c.outstanding[id] == name {
			released = id
			break
		}
	}
	if released < 0 {
		return
	}

	shifted := make(map[int]string, len(c.outstanding))
	for id, n := range c.outstanding {
		switch {
		case id < released:
			shifted[id] = n
		case id > released:
			shifted[id-1] = n
		}
	}
	c.outstanding = shifted
	q.ID--
	c.next--
}

// Outstanding returns the number of abandoned queries whose reply has not arrived
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}
