package series

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/segmentio/encoding/json"
)

// Reading is one observation for one entity (a city, a device) at one instant.
// A Reading is immutable: the field and tag maps are copied on construction and
// accessors only hand out copies.
type Reading struct {
	EntityKey string
	Timestamp time.Time // always UTC

	fields map[string]float64
	tags   map[string]string
}

// NewReading builds a Reading from the given fields and tags.
func NewReading(entityKey string, ts time.Time, fields map[string]float64, tags map[string]string) Reading {
	r := Reading{
		EntityKey: entityKey,
		Timestamp: ts.UTC(),
		fields:    make(map[string]float64, len(fields)),
		tags:      make(map[string]string, len(tags)),
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	for k, v := range tags {
		r.tags[k] = v
	}
	return r
}

// Field returns the value of a metric and whether the provider reported it.
func (r Reading) Field(name string) (float64, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of all metric values.
func (r Reading) Fields() map[string]float64 {
	out := make(map[string]float64, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// FieldNames returns the metric names in sorted order.
func (r Reading) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Tag returns a dimension value, or "" when absent.
func (r Reading) Tag(name string) string {
	return r.tags[name]
}

// Tags returns a copy of all dimensions.
func (r Reading) Tags() map[string]string {
	out := make(map[string]string, len(r.tags))
	for k, v := range r.tags {
		out[k] = v
	}
	return out
}

// Validate reports whether the reading can be written to a store.
func (r Reading) Validate() error {
	if r.EntityKey == "" {
		return fmt.Errorf("%w: entity key is empty", ErrStoreRejected)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s has no timestamp", ErrStoreRejected, r.EntityKey)
	}
	if len(r.fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrStoreRejected, r.EntityKey)
	}
	for name, v := range r.fields {
		if name == "" {
			return fmt.Errorf("%w: %s has an unnamed field", ErrStoreRejected, r.EntityKey)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s field %q is not finite", ErrStoreRejected, r.EntityKey, name)
		}
	}
	return nil
}

// ValidateBatch validates every reading and rejects duplicate entity keys.
func ValidateBatch(batch []Reading) error {
	seen := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.EntityKey]; dup {
			return fmt.Errorf("%w: duplicate entity %s in batch", ErrStoreRejected, r.EntityKey)
		}
		seen[r.EntityKey] = struct{}{}
	}
	return nil
}

type readingJSON struct {
	EntityKey string             `json:"entity_key"`
	Timestamp time.Time          `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
	Tags      map[string]string  `json:"tags,omitempty"`
}

// MarshalJSON renders the reading with its fields and tags.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		EntityKey: r.EntityKey,
		Timestamp: r.Timestamp,
		Fields:    r.Fields(),
		Tags:      r.Tags(),
	})
}
