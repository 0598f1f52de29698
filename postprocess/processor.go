package postprocess

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// QueryMostRecent asks for the single newest record.
const QueryMostRecent = "most_recent"

// DefaultDateField names the record field that holds the order date.
const DefaultDateField = "Order_Date"

// DefaultDateLayouts are tried in order when parsing the date field.
var DefaultDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// Processor applies Specs to RecordSets. A Processor is immutable after
// construction and safe for concurrent use.
type Processor struct {
	dateField   string
	dateLayouts []string
	logger      *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithDateField changes the field used for most_recent ordering.
func WithDateField(field string) Option {
	return func(p *Processor) {
		p.dateField = field
	}
}

// WithDateLayouts replaces the accepted date layouts.
func WithDateLayouts(layouts ...string) Option {
	return func(p *Processor) {
		p.dateLayouts = layouts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New creates a Processor.
func New(opts ...Option) *Processor {
	p := &Processor{
		dateField:   DefaultDateField,
		dateLayouts: DefaultDateLayouts,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

var defaultProcessor = New()

// Apply runs spec over records with the default Processor.
func Apply(records RecordSet, spec Spec, queryType string) RecordSet {
	return defaultProcessor.Apply(records, spec, queryType)
}

// Apply filters, sorts and truncates a copy of records. The caller's slice is
// never reordered. Steps that name a field no record carries are skipped.
func (p *Processor) Apply(records RecordSet, spec Spec, queryType string) RecordSet {
	if len(records) == 0 {
		return RecordSet{}
	}

	out := make(RecordSet, len(records))
	copy(out, records)

	mostRecent := strings.EqualFold(strings.TrimSpace(queryType), QueryMostRecent)

	if spec.IsEmpty() {
		if mostRecent {
			return p.newest(out)
		}
		return out
	}

	if f := spec.Filter; f != nil {
		switch {
		case !f.Condition.Valid():
			p.logger.Warn("Skipping filter with unknown condition", "field", f.Field, "condition", f.Condition)
		case !hasField(out, f.Field):
			p.logger.Debug("Skipping filter on absent field", "field", f.Field)
		default:
			kept := out[:0:0]
			for _, r := range out {
				if matches(r[f.Field], f.Condition, f.Value) {
					kept = append(kept, r)
				}
			}
			out = kept
		}
	}

	if spec.SortBy != "" {
		if hasField(out, spec.SortBy) {
			sortByField(out, spec.SortBy, spec.order())
		} else {
			p.logger.Debug("Skipping sort on absent field", "field", spec.SortBy)
		}
	}

	if mostRecent && hasField(out, p.dateField) {
		return p.newest(out)
	}

	if spec.Limit > 0 && len(out) > spec.Limit {
		out = out[:spec.Limit]
	}
	return out
}

// newest returns the record with the latest parsable date. Unparsable or
// missing dates rank lowest and ties keep input order. When no record has
// the date field the records are returned unchanged.
func (p *Processor) newest(records RecordSet) RecordSet {
	if len(records) == 0 {
		return RecordSet{}
	}
	if !hasField(records, p.dateField) {
		return records
	}

	best := 0
	bestTime := p.parseDate(records[0][p.dateField])
	for i := 1; i < len(records); i++ {
		t := p.parseDate(records[i][p.dateField])
		if t.After(bestTime) {
			best, bestTime = i, t
		}
	}
	return RecordSet{records[best]}
}

// parseDate returns the zero time for anything it cannot parse.
func (p *Processor) parseDate(v any) time.Time {
	switch d := v.(type) {
	case time.Time:
		return d
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range p.dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func hasField(records RecordSet, field string) bool {
	for _, r := range records {
		if _, ok := r[field]; ok {
			return true
		}
	}
	return false
}

// sortByField stable-sorts in place. Records without a comparable value go
// last in either direction.
func sortByField(records RecordSet, field string, order Order) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i][field], records[j][field]
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		}
		c, _ := compare(a, b)
		if order == Asc {
			return c < 0
		}
		return c > 0
	})
}
