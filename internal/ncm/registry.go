package ncm

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidDataset matches datasets whose record collection cannot be found.
var ErrInvalidDataset = errors.New("invalid dataset")

// InvalidDatasetError is returned by Build when no record collection can be
// found in the raw dataset. It matches ErrInvalidDataset with errors.Is.
type InvalidDatasetError struct {
	Reason string
}

func (e *InvalidDatasetError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidDataset, e.Reason)
}

func (e *InvalidDatasetError) Is(target error) bool {
	return target == ErrInvalidDataset
}

// Registry maps normalized codes to records. It is never modified after
// Build returns, so one value can serve any number of concurrent readers.
type Registry struct {
	records map[string]Record
	asOf    *time.Time
}

// Build indexes the records of a raw dataset: either a sequence of records or
// a map holding one under a CollectionKeys name. Later duplicates replace
// earlier ones; elements without a usable code are skipped.
//
// When the collection cannot be resolved Build returns an empty registry
// together with an *InvalidDatasetError, never a nil registry.
func Build(raw any) (*Registry, error) {
	reg := &Registry{records: map[string]Record{}}

	items, err := collection(raw)
	if err != nil {
		return reg, err
	}

	var maxStart *time.Time
	for _, item := range items {
		fields, ok := asFields(item)
		if !ok {
			continue
		}
		rec := RecordFromFields(fields)
		if rec.Code == "" {
			continue
		}
		reg.records[rec.Code] = rec
		if rec.EffectiveFrom != nil && (maxStart == nil || rec.EffectiveFrom.After(*maxStart)) {
			maxStart = rec.EffectiveFrom
		}
	}
	reg.asOf = maxStart

	if m, ok := asFields(raw); ok {
		if v, ok := ResolveField(m, AsOfKeys); ok {
			if d, ok := ParseDate(v); ok {
				reg.asOf = &d
			}
		}
	}
	return reg, nil
}

func collection(raw any) ([]any, error) {
	if raw == nil {
		return nil, &InvalidDatasetError{Reason: "dataset is null"}
	}
	if items, ok := asSequence(raw); ok {
		return items, nil
	}
	m, ok := asFields(raw)
	if !ok {
		return nil, &InvalidDatasetError{Reason: fmt.Sprintf("unsupported dataset type %T", raw)}
	}
	v, ok := ResolveField(m, CollectionKeys)
	if !ok {
		return nil, &InvalidDatasetError{Reason: "record collection not found"}
	}
	items, ok := asSequence(v)
	if !ok {
		return nil, &InvalidDatasetError{Reason: fmt.Sprintf("record collection is %T, not a sequence", v)}
	}
	return items, nil
}

func asSequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	default:
		return nil, false
	}
}

func asFields(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Lookup accepts the code in any separator style.
func (r *Registry) Lookup(code string) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	rec, ok := r.records[Normalize(code)]
	return rec, ok
}

// Len is the number of distinct codes; zero for a nil registry.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// AsOf is the dataset's own update date, or the latest start date found.
func (r *Registry) AsOf() (time.Time, bool) {
	if r == nil || r.asOf == nil {
		return time.Time{}, false
	}
	return *r.asOf, true
}

// Records returns every record ordered by code.
func (r *Registry) Records() []Record {
	if r == nil {
		return nil
	}
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
