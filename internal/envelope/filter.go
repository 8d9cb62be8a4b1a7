package envelope

// Predicate is a single filter criterion. Filter composes predicates
// with AND semantics; the empty predicate set returns the input
// sequence unchanged and predicate order never affects the result
// (spec §8 filter law).
type Predicate func(Envelope) bool

// WithPriorities matches any of the given priorities. An empty set
// matches everything.
func WithPriorities(priorities ...Priority) Predicate {
	if len(priorities) == 0 {
		return func(Envelope) bool { return true }
	}
	set := make(map[Priority]struct{}, len(priorities))
	for _, p := range priorities {
		set[p] = struct{}{}
	}
	return func(e Envelope) bool {
		_, ok := set[e.Message.Priority]
		return ok
	}
}

// WithCategories matches any of the given categories. An empty set
// matches everything.
func WithCategories(categories ...Category) Predicate {
	if len(categories) == 0 {
		return func(Envelope) bool { return true }
	}
	set := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return func(e Envelope) bool {
		_, ok := set[e.Message.Category]
		return ok
	}
}

// WithSourceType matches an exact source type.
func WithSourceType(sourceType string) Predicate {
	if sourceType == "" {
		return func(Envelope) bool { return true }
	}
	return func(e Envelope) bool { return e.Source.Type == sourceType }
}

// WithAnyTag matches envelopes carrying at least one of the given tags.
// An empty set matches everything.
func WithAnyTag(tags ...string) Predicate {
	if len(tags) == 0 {
		return func(Envelope) bool { return true }
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return func(e Envelope) bool {
		for _, t := range e.Metadata.Tags {
			if _, ok := set[t]; ok {
				return true
			}
		}
		return false
	}
}

// RequiresAck matches envelopes with metadata.requires_ack == true.
func RequiresAck() Predicate {
	return func(e Envelope) bool { return e.Metadata.RequiresAck }
}

// Filter returns the envelopes matching every supplied predicate.
// Batch envelopes are expanded transparently: each member is tested
// and matched individually, and the batch itself is never tested as a
// single unit.
func Filter(envelopes []Envelope, predicates ...Predicate) []Envelope {
	var out []Envelope
	for _, e := range expand(envelopes) {
		if matchesAll(e, predicates) {
			out = append(out, e)
		}
	}
	return out
}

func expand(envelopes []Envelope) []Envelope {
	var out []Envelope
	for _, e := range envelopes {
		if e.Message.Type == MessageTypeBatch {
			out = append(out, expand(e.Message.Content.Messages)...)
			continue
		}
		out = append(out, e)
	}
	return out
}

func matchesAll(e Envelope, predicates []Predicate) bool {
	for _, p := range predicates {
		if !p(e) {
			return false
		}
	}
	return true
}
