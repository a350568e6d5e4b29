//go:build !parcheck_disabled

package parcheck

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parcheck/internal/engine"
)

// Step is one entry of a Trace: the task chosen at a given depth, carrying
// its name and the operation it was stepped through for readability. Only ID
// is consulted during replay; Name and Op are diagnostic.
type Step struct {
	ID   engine.TaskID
	Name string
	Op   string
}

func (s Step) String() string {
	if s.Name == "" {
		return strconv.Itoa(int(s.ID))
	}
	if s.Op == "" {
		return strconv.Itoa(int(s.ID)) + ":" + s.Name
	}
	return strconv.Itoa(int(s.ID)) + ":" + s.Name + "." + s.Op
}

// Trace is the ordered sequence of task choices that produced one run
// iteration. Its String form is what a failing run prints to stderr, and
// ParseTrace is its inverse, so a trace can be copy-pasted into
// PARCHECK_REPLAY to reproduce the exact interleaving.
type Trace []Step

// String renders the canonical comma-joined form: "id:name.op,id:name.op,...".
func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, s := range t {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// IDs extracts the bare TaskID sequence, which is all replay actually needs.
func (t Trace) IDs() []engine.TaskID {
	out := make([]engine.TaskID, len(t))
	for i, s := range t {
		out[i] = s.ID
	}
	return out
}

// ParseTrace accepts the canonical "id:name.op" comma-separated form, the
// alternate ">"-separated form some shells prefer over commas, and bare
// "id,id,id" for hand-written traces. An empty string parses to an empty
// trace (zero steps, i.e. "explore freely").
func ParseTrace(s string) (Trace, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	sep := ","
	if strings.Contains(s, ">") {
		sep = ">"
	}

	fields := strings.Split(s, sep)
	out := make(Trace, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		step, err := parseStep(f)
		if err != nil {
			return nil, errors.Wrapf(err, "parcheck: parse trace %q", s)
		}
		out = append(out, step)
	}
	return out, nil
}

func parseStep(f string) (Step, error) {
	idPart := f
	rest := ""
	if i := strings.IndexByte(f, ':'); i >= 0 {
		idPart, rest = f[:i], f[i+1:]
	}

	id, err := strconv.Atoi(strings.TrimSpace(idPart))
	if err != nil {
		return Step{}, err
	}

	step := Step{ID: engine.TaskID(id)}
	if rest == "" {
		return step, nil
	}

	name, op := rest, ""
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		name, op = rest[:i], rest[i+1:]
	}
	step.Name, step.Op = name, op
	return step, nil
}
