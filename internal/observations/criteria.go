package observations

import (
	"time"

	"codeberg.org/mutker/weatherd/internal/errors"
)

const dayLayout = "2006-01-02"

// timeLayouts are accepted by the boundary parsers, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// TimeCriteria bounds a scan over readings by their recorded timestamp.
// When Exactly is set it takes precedence and every other bound is
// ignored. Before and After are inclusive and freely combinable; an empty
// criteria selects the full table.
type TimeCriteria struct {
	Exactly *time.Time
	Before  *time.Time
	After   *time.Time
}

// clause renders the criteria as SQL conditions on field, to be appended
// to a query that already filters on quantity. Timestamps are compared at
// full (second) granularity.
func (c TimeCriteria) clause(field string) (string, []any) {
	if c.Exactly != nil {
		return " AND " + field + " = ?", []any{c.Exactly.Unix()}
	}

	clause := ""
	args := []any{}
	if c.Before != nil {
		clause += " AND " + field + " <= ?"
		args = append(args, c.Before.Unix())
	}
	if c.After != nil {
		clause += " AND " + field + " >= ?"
		args = append(args, c.After.Unix())
	}

	return clause, args
}

// DateCriteria bounds a scan over daily rollups by calendar day. The same
// precedence rule as TimeCriteria applies; comparisons use date
// granularity only, any time-of-day component is dropped.
type DateCriteria struct {
	Exactly *time.Time
	Before  *time.Time
	After   *time.Time
}

func (c DateCriteria) clause(field string) (string, []any) {
	if c.Exactly != nil {
		return " AND " + field + " = ?", []any{dayOf(*c.Exactly).Format(dayLayout)}
	}

	clause := ""
	args := []any{}
	if c.Before != nil {
		clause += " AND " + field + " <= ?"
		args = append(args, dayOf(*c.Before).Format(dayLayout))
	}
	if c.After != nil {
		clause += " AND " + field + " >= ?"
		args = append(args, dayOf(*c.After).Format(dayLayout))
	}

	return clause, args
}

// ParseTimeCriteria maps raw query values onto a TimeCriteria. Empty
// strings mean "not supplied"; malformed values yield a criteria
// validation error.
func ParseTimeCriteria(exactly, before, after string) (TimeCriteria, error) {
	criteria := TimeCriteria{}

	var err error
	if criteria.Exactly, err = parseTimeValue("exactly", exactly); err != nil {
		return TimeCriteria{}, err
	}
	if criteria.Before, err = parseTimeValue("before", before); err != nil {
		return TimeCriteria{}, err
	}
	if criteria.After, err = parseTimeValue("after", after); err != nil {
		return TimeCriteria{}, err
	}

	return criteria, nil
}

// ParseDateCriteria maps raw query values onto a DateCriteria. Values must
// be calendar dates without a time component.
func ParseDateCriteria(exactly, before, after string) (DateCriteria, error) {
	criteria := DateCriteria{}

	var err error
	if criteria.Exactly, err = parseDateValue("exactly", exactly); err != nil {
		return DateCriteria{}, err
	}
	if criteria.Before, err = parseDateValue("before", before); err != nil {
		return DateCriteria{}, err
	}
	if criteria.After, err = parseDateValue("after", after); err != nil {
		return DateCriteria{}, err
	}

	return criteria, nil
}

func parseTimeValue(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}

	return nil, invalidCriteria(field, value)
}

func parseDateValue(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	parsed, err := time.ParseInLocation(dayLayout, value, time.UTC)
	if err != nil {
		return nil, invalidCriteria(field, value)
	}

	return &parsed, nil
}

func invalidCriteria(field, value string) error {
	return errors.New().WithData(ErrInvalidCriteria, struct {
		Field string
		Value string
	}{
		Field: field,
		Value: value,
	})
}
