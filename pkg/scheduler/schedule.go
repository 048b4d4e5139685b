package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cron lines are searched minute by minute for at most this long.
const cronSearchHorizon = 5 * 366 * 24 * time.Hour

// Schedule computes the next run strictly after a given instant.
type Schedule interface {
	Next(after time.Time) (time.Time, error)
}

// ParseSchedule parses "@every <duration>", the @hourly/@daily/@weekly/@monthly
// shortcuts, or a five-field cron line evaluated in timezone (UTC when empty).
func ParseSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, schedulerError(ErrValidation, "schedule is required")
	}

	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid @every duration: %w", ErrValidation, err)
		}
		if interval <= 0 {
			return nil, schedulerError(ErrValidation, "@every duration must be > 0")
		}
		return everySchedule(interval), nil
	}

	if expanded, ok := cronShortcuts[expr]; ok {
		expr = expanded
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timezone %q: %w", ErrValidation, tz, err)
		}
		loc = parsed
	}
	return parseCron(expr, loc)
}

var cronShortcuts = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

type everySchedule time.Duration

func (s everySchedule) Next(after time.Time) (time.Time, error) {
	return after.Add(time.Duration(s)).UTC(), nil
}

// cronSchedule keeps one bit per allowed value of each field.
type cronSchedule struct {
	minute, hour, dom, month, dow uint64
	domAny, dowAny                bool
	loc                           *time.Location
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

func parseCron(expr string, loc *time.Location) (*cronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, schedulerError(ErrValidation, fmt.Sprintf("unsupported schedule %q: expected 5 fields", expr))
	}

	var masks [5]uint64
	for i, part := range parts {
		mask, err := parseCronField(part, cronFields[i])
		if err != nil {
			return nil, err
		}
		masks[i] = mask
	}
	// 7 is an alias for Sunday.
	if masks[4]&(1<<7) != 0 {
		masks[4] = masks[4]&^(1<<7) | 1
	}

	return &cronSchedule{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
		domAny: parts[2] == "*",
		dowAny: parts[4] == "*",
		loc:    loc,
	}, nil
}

func parseCronField(raw string, field cronField) (uint64, error) {
	var mask uint64
	for _, segment := range strings.Split(raw, ",") {
		segMask, err := parseCronSegment(strings.TrimSpace(segment), field)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid %s field %q: %w", ErrValidation, field.name, raw, err)
		}
		mask |= segMask
	}
	if mask == 0 {
		return 0, schedulerError(ErrValidation, fmt.Sprintf("%s field %q matches nothing", field.name, raw))
	}
	return mask, nil
}

func parseCronSegment(segment string, field cronField) (uint64, error) {
	if segment == "" {
		return 0, fmt.Errorf("empty segment")
	}

	base, stepRaw, hasStep := strings.Cut(segment, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepRaw)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepRaw)
		}
		step = parsed
	}

	lo, hi := field.min, field.max
	switch {
	case base == "*" || base == "":
	case strings.Contains(base, "-"):
		startRaw, endRaw, _ := strings.Cut(base, "-")
		start, err := strconv.Atoi(startRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid range start %q", startRaw)
		}
		end, err := strconv.Atoi(endRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid range end %q", endRaw)
		}
		lo, hi = start, end
	default:
		value, err := strconv.Atoi(base)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", base)
		}
		lo = value
		if hasStep {
			hi = field.max
		} else {
			hi = value
		}
	}

	if lo < field.min || hi > field.max {
		return 0, fmt.Errorf("value out of range [%d,%d]", field.min, field.max)
	}
	if hi < lo {
		return 0, fmt.Errorf("invalid range %d-%d", lo, hi)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

func (s *cronSchedule) matches(t time.Time) bool {
	if s.minute&(1<<uint(t.Minute())) == 0 || s.hour&(1<<uint(t.Hour())) == 0 || s.month&(1<<uint(t.Month())) == 0 {
		return false
	}
	domMatch := s.dom&(1<<uint(t.Day())) != 0
	dowMatch := s.dow&(1<<uint(t.Weekday())) != 0
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowMatch
	case s.dowAny:
		return domMatch
	default:
		// Both restricted: either one matching is enough.
		return domMatch || dowMatch
	}
}

func (s *cronSchedule) Next(after time.Time) (time.Time, error) {
	candidate := after.In(s.loc).Truncate(time.Minute).Add(time.Minute)
	limit := candidate.Add(cronSearchHorizon)
	for candidate.Before(limit) {
		if s.month&(1<<uint(candidate.Month())) == 0 {
			// Jump to the first minute of the next month.
			y, m, _ := candidate.Date()
			candidate = time.Date(y, m+1, 1, 0, 0, 0, 0, s.loc)
			continue
		}
		if s.matches(candidate) {
			return candidate.UTC(), nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, schedulerError(ErrValidation, "schedule never fires")
}
