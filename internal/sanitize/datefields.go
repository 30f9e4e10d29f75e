package sanitize

import "github.com/insightlabs/insight/internal/schema"

// DateFieldSet is the running set of field names currently believed to hold
// date values. It is seeded from a schema snapshot at the start of
// sanitization, mutated stage-by-stage as the pipeline is walked in order,
// and discarded when sanitization completes.
type DateFieldSet map[string]struct{}

// SeedDateFields builds the initial set from a collection snapshot.
func SeedDateFields(snap *schema.Snapshot) DateFieldSet {
	set := make(DateFieldSet)
	if snap == nil {
		return set
	}
	for _, name := range snap.DateFields() {
		set.Add(name)
	}
	return set
}

func (s DateFieldSet) Add(name string)    { s[name] = struct{}{} }
func (s DateFieldSet) Remove(name string) { delete(s, name) }

func (s DateFieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}
