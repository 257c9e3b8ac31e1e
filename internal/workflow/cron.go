package workflow

import (
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
)

// cronSchedule is a parsed five-field expression (minute hour dayOfMonth
// month dayOfWeek) with step/range/list support, plus the named shortcuts
// spec.md §4.H lists. No cron-parsing library appears anywhere in the
// retrieval pack and this grammar (named shortcuts alongside the five
// standard fields) is nonstandard enough that no pack dependency would fit
// it either; this is a justified standard-library-only component
// (DESIGN.md).
type cronSchedule struct {
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	dayOfWeek  fieldSet
}

// fieldSet is the set of values a cron field matches, as a bitset-like map.
type fieldSet map[int]bool

var namedShortcuts = map[string]string{
	"@hourly":     "0 * * * *",
	"@daily":      "0 0 * * *",
	"@weekly":     "0 0 * * 0",
	"@monthly":    "0 0 1 * *",
	"@every5min":  "*/5 * * * *",
	"@every15min": "*/15 * * * *",
	"@every30min": "*/30 * * * *",
}

// parseCron parses a cron expression into a cronSchedule.
func parseCron(expr string) (*cronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if alias, ok := namedShortcuts[expr]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, apperr.New(apperr.InvalidInput, "cron expression must have 5 fields")
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, err
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, err
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, err
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, err
	}

	return &cronSchedule{minute: minute, hour: hour, dayOfMonth: dom, month: month, dayOfWeek: dow}, nil
}

// parseField handles "*", "*/n", "a-b", "a,b,c", and combinations of
// range+step ("a-b/n"), within [min,max].
func parseField(field string, min, max int) (fieldSet, error) {
	out := make(fieldSet)

	for _, part := range strings.Split(field, ",") {
		step := 1
		base := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			base = part[:idx]
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return nil, apperr.New(apperr.InvalidInput, "invalid cron step: "+part)
			}
			step = n
		}

		lo, hi := min, max
		if base != "*" {
			if idx := strings.Index(base, "-"); idx >= 0 {
				a, err1 := strconv.Atoi(base[:idx])
				b, err2 := strconv.Atoi(base[idx+1:])
				if err1 != nil || err2 != nil {
					return nil, apperr.New(apperr.InvalidInput, "invalid cron range: "+base)
				}
				lo, hi = a, b
			} else {
				v, err := strconv.Atoi(base)
				if err != nil {
					return nil, apperr.New(apperr.InvalidInput, "invalid cron value: "+base)
				}
				lo, hi = v, v
			}
		}

		for v := lo; v <= hi; v += step {
			if v < min || v > max {
				return nil, apperr.New(apperr.InvalidInput, "cron value out of range: "+part)
			}
			out[v] = true
		}
	}

	return out, nil
}

// Matches reports whether t (already converted to the workflow's timezone)
// falls on a minute this schedule fires.
func (c *cronSchedule) Matches(t time.Time) bool {
	return c.minute[t.Minute()] &&
		c.hour[t.Hour()] &&
		c.dayOfMonth[t.Day()] &&
		c.month[int(t.Month())] &&
		c.dayOfWeek[int(t.Weekday())]
}
