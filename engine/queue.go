package engine

import (
	"iter"
	"sort"
)

// Spec describes one task: which registered function to run and with
// what input. Keys identify tasks in outcomes and events; an empty key
// is replaced by the task's 1-based dispatch ordinal.
type Spec struct {
	Key   string
	Func  string
	Input any
}

// Source produces the tasks of a run, lazily and exactly once. Next is
// only ever called from the run's coordinating goroutine, and is not
// called again after it reports exhaustion or after the run stops.
type Source interface {
	Next() (Spec, bool)
}

type sliceSource struct {
	items []Spec
	idx   int
}

func (s *sliceSource) Next() (Spec, bool) {
	if s.idx >= len(s.items) {
		return Spec{}, false
	}
	spec := s.items[s.idx]
	s.idx++
	return spec, true
}

// FromSlice returns a Source yielding specs in order.
func FromSlice(specs []Spec) Source {
	return &sliceSource{items: specs}
}

// FromMap returns a Source yielding the map's specs in sorted key
// order. The map key becomes the task key.
func FromMap(specs map[string]Spec) Source {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]Spec, 0, len(keys))
	for _, k := range keys {
		spec := specs[k]
		spec.Key = k
		items = append(items, spec)
	}
	return &sliceSource{items: items}
}

type funcSource struct {
	next func() (Spec, bool)
	done bool
}

func (s *funcSource) Next() (Spec, bool) {
	if s.done {
		return Spec{}, false
	}
	spec, ok := s.next()
	if !ok {
		s.done = true
		return Spec{}, false
	}
	return spec, true
}

// FromFunc adapts a generator function to a Source. Once next reports
// exhaustion it is not called again.
func FromFunc(next func() (Spec, bool)) Source {
	return &funcSource{next: next}
}

type seqSource struct {
	next func() (Spec, bool)
	stop func()
}

func (s *seqSource) Next() (Spec, bool) { return s.next() }

// Close releases the underlying iterator early. The run calls it when
// it finishes without draining the sequence.
func (s *seqSource) Close() { s.stop() }

// FromSeq adapts an iterator to a Source.
func FromSeq(seq iter.Seq[Spec]) Source {
	next, stop := iter.Pull(seq)
	return &seqSource{next: next, stop: stop}
}
