package timer

// cancelRegistry records ids whose next run/re-arm decision must be
// suppressed. Guarded by the Scheduler mutex.
type cancelRegistry struct {
	marks map[ID]struct{}
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{marks: map[ID]struct{}{}}
}

func (r *cancelRegistry) mark(id ID) { r.marks[id] = struct{}{} }

// marked reports whether a mark for id is waiting to be consumed.
func (r *cancelRegistry) marked(id ID) bool {
	_, ok := r.marks[id]
	return ok
}

// consumeIfMarked clears the mark for id and reports whether it was set.
func (r *cancelRegistry) consumeIfMarked(id ID) bool {
	if _, ok := r.marks[id]; !ok {
		return false
	}
	delete(r.marks, id)
	return true
}

func (r *cancelRegistry) len() int { return len(r.marks) }
