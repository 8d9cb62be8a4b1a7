// Package envelope defines the canonical structured message unit
// exchanged between the monitoring engine, the recovery coordinator, the
// priority router and the message daemon, along with a builder that
// enforces its invariants and filtering helpers over parsed sequences.
package envelope

import (
	"time"

	"github.com/tmuxorc/orcd/internal/id"
	"github.com/tmuxorc/orcd/internal/validate"
)

// Source identifies the originator of an envelope.
type Source struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Action is a suggested response action attached to a message.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Content is the body of a message.
type Content struct {
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Context  map[string]any `json:"context,omitempty"`
	Actions  []Action       `json:"actions,omitempty"`
	Messages []Envelope     `json:"messages,omitempty"` // only set when Type == MessageTypeBatch
}

// Message is the typed, categorized, prioritized payload of an
// envelope.
type Message struct {
	Type     MessageType `json:"type"`
	Category Category    `json:"category"`
	Priority Priority    `json:"priority"`
	Content  Content     `json:"content"`
}

// Metadata carries cross-cutting envelope attributes.
type Metadata struct {
	Tags          []string `json:"tags,omitempty"`
	TTLSeconds    int      `json:"ttl_seconds,omitempty"`
	RequiresAck   bool     `json:"requires_ack"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Envelope is the canonical wire and storage unit. Field names and enum
// spellings are part of the compatibility surface (spec §6) — never
// rename them casually.
type Envelope struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Message   Message   `json:"message"`
	Metadata  Metadata  `json:"metadata"`

	// Target is the addressed agent window. Not part of the historical
	// per-source-language wire shape's envelope body (the store keys by
	// target externally), but carrying it on the Go type avoids threading
	// a parallel (Envelope, Target) tuple through every function; callers
	// that must emit the bare §3 shape use Content/Message/Metadata only.
	Target validate.Target `json:"-"`
}

// Builder constructs envelopes with all required fields and enforces
// the invariants in spec §3: critical priority requires ack, and batch
// envelopes carry a fully-formed message sequence.
type Builder struct {
	sourceType string
	sourceID   string
}

// NewBuilder returns a Builder that stamps every envelope it produces
// with the given source.
func NewBuilder(sourceType, sourceID string) Builder {
	return Builder{sourceType: sourceType, sourceID: sourceID}
}

// Build constructs a single (non-batch) envelope.
func (b Builder) Build(target validate.Target, category Category, priority Priority, content Content, opts ...Option) Envelope {
	e := Envelope{
		ID:        id.Generate(),
		Timestamp: time.Now().UTC(),
		Source:    Source{Type: b.sourceType, Identifier: b.sourceID},
		Target:    target,
		Message: Message{
			Type:     MessageTypeNotification,
			Category: category,
			Priority: priority,
			Content:  content,
		},
	}
	for _, opt := range opts {
		opt(&e)
	}
	// Invariant: priority=critical => requires_ack=true.
	if priority == PriorityCritical {
		e.Metadata.RequiresAck = true
	}
	return e
}

// BuildBatch wraps an ordered sequence of fully-formed envelopes into a
// single type=batch envelope addressed to target, at the given
// priority (always "low" per the Router's batching policy, but left as
// a parameter so tests can exercise other priorities).
func (b Builder) BuildBatch(target validate.Target, priority Priority, members []Envelope) Envelope {
	msgs := make([]Envelope, len(members))
	copy(msgs, members)
	e := Envelope{
		ID:        id.Generate(),
		Timestamp: time.Now().UTC(),
		Source:    Source{Type: b.sourceType, Identifier: b.sourceID},
		Target:    target,
		Message: Message{
			Type:     MessageTypeBatch,
			Category: CategoryStatus,
			Priority: priority,
			Content:  Content{Subject: "batch", Messages: msgs},
		},
	}
	if priority == PriorityCritical {
		e.Metadata.RequiresAck = true
	}
	return e
}

// Option customizes an envelope during construction.
type Option func(*Envelope)

// WithTags attaches tags to the envelope's metadata.
func WithTags(tags ...string) Option {
	return func(e *Envelope) { e.Metadata.Tags = tags }
}

// WithTTL sets a time-to-live in seconds.
func WithTTL(seconds int) Option {
	return func(e *Envelope) { e.Metadata.TTLSeconds = seconds }
}

// WithRequiresAck forces the requires_ack flag. Critical envelopes
// already require ack unconditionally; this lets non-critical
// envelopes opt in too (e.g. recovery envelopes).
func WithRequiresAck(v bool) Option {
	return func(e *Envelope) { e.Metadata.RequiresAck = v }
}

// WithCorrelationID attaches a correlation id linking a response to its
// originating request.
func WithCorrelationID(corrID string) Option {
	return func(e *Envelope) { e.Metadata.CorrelationID = corrID }
}

// WithContext merges key/value pairs into the message content's
// context map.
func WithContext(kv map[string]any) Option {
	return func(e *Envelope) {
		if e.Message.Content.Context == nil {
			e.Message.Content.Context = make(map[string]any, len(kv))
		}
		for k, v := range kv {
			e.Message.Content.Context[k] = v
		}
	}
}
