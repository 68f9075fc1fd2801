package ncm

import "time"

// Record is one registry entry. Nil bounds are open; an unparseable bound is
// nil too, with its source text kept in RawFrom/RawTo for display.
type Record struct {
	Code          string
	Description   *string
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	RawFrom       *string
	RawTo         *string
	Fields        map[string]any
}

// RecordFromFields reads a dataset element using the shared field resolver.
// The code is normalized; an empty Code means the element has no usable code.
func RecordFromFields(fields map[string]any) Record {
	rec := Record{Fields: fields}
	if code, ok := resolveString(fields, CodeKeys); ok {
		rec.Code = Normalize(code)
	}
	if desc, ok := resolveString(fields, DescriptionKeys); ok {
		rec.Description = &desc
	}
	rec.EffectiveFrom, rec.RawFrom = resolveDate(fields, StartKeys)
	rec.EffectiveTo, rec.RawTo = resolveDate(fields, EndKeys)
	return rec
}

func resolveDate(fields map[string]any, keys []string) (*time.Time, *string) {
	v, ok := ResolveField(fields, keys)
	if !ok {
		return nil, nil
	}
	raw := stringValue(v)
	if d, ok := ParseDate(v); ok {
		return &d, &raw
	}
	return nil, &raw
}

// ValidAt reports whether the reference day falls inside the record's
// inclusive [EffectiveFrom, EffectiveTo] interval. Days are compared in the
// location of at.
func (r Record) ValidAt(at time.Time) bool {
	day := dayOf(at)
	if r.EffectiveFrom != nil && day.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && day.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// IsValid reports whether r is in force on the calendar day of at.
func IsValid(r Record, at time.Time) bool {
	return r.ValidAt(at)
}
