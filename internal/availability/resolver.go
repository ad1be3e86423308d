// Package availability turns a trainer's availability rules and the studio's
// operating hours into bookable windows.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
)

var (
	ErrInvalidRule  = errors.New("invalid availability rule")
	ErrInvalidHours = errors.New("invalid operating hours")
	ErrInvalidRange = errors.New("invalid date range")
)

const minutesPerDay = 24 * 60

// Query describes one resolution. Location is the studio's zone; times of
// day in rules and hours are interpreted there.
type Query struct {
	From     time.Time
	To       time.Time
	Duration time.Duration
	Now      time.Time
	Location *time.Location
}

// Resolve returns the ordered open windows in [q.From, q.To) that can fit at
// least one q.Duration slot. A nil hours slice means the studio has no
// operating-hours configuration and nothing is clipped; a configured studio
// without an enabled entry for a weekday is closed that day.
func Resolve(q Query, rules []models.AvailabilityRule, hours []models.DayHours) ([]Window, error) {
	if !q.To.After(q.From) {
		return nil, ErrInvalidRange
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}

	parsed := make([]parsedRule, 0, len(rules))
	for i := range rules {
		pr, err := parseRule(&rules[i])
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, pr)
	}
	week, err := parseHours(hours)
	if err != nil {
		return nil, err
	}

	var out []Window
	from := q.From.In(loc)
	for day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc); day.Before(q.To); day = day.AddDate(0, 0, 1) {
		out = append(out, resolveDay(day, parsed, week)...)
	}

	lo := q.From
	if q.Now.After(lo) {
		lo = q.Now
	}
	out = Clip(Merge(out), lo, q.To)
	return AtLeast(out, q.Duration), nil
}

func resolveDay(day time.Time, rules []parsedRule, week map[time.Weekday][]span) []Window {
	var open, blocked []Window
	for _, r := range rules {
		if !r.appliesOn(day) {
			continue
		}
		w := r.span.on(day)
		if r.polarity == models.PolarityBlocked {
			blocked = append(blocked, w)
		} else {
			open = append(open, w)
		}
	}
	if len(open) == 0 {
		return nil
	}
	result := Subtract(open, blocked)

	if week == nil {
		return result
	}
	slots, ok := week[day.Weekday()]
	if !ok {
		return nil
	}
	studio := make([]Window, 0, len(slots))
	for _, s := range slots {
		studio = append(studio, s.on(day))
	}
	return Intersect(result, studio)
}

// ValidateRule rejects rules that could never produce a sensible window.
func ValidateRule(r *models.AvailabilityRule) error {
	_, err := parseRule(r)
	return err
}

// span is a [start, end) range of minutes after local midnight.
type span struct {
	start int
	end   int
}

func (s span) on(day time.Time) Window {
	return Window{Start: atMinute(day, s.start), End: atMinute(day, s.end)}
}

func atMinute(day time.Time, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, day.Location())
}

type parsedRule struct {
	kind     models.RuleKind
	weekday  time.Weekday
	from     int
	until    int
	span     span
	polarity models.RulePolarity
}

func (r parsedRule) appliesOn(day time.Time) bool {
	switch r.kind {
	case models.RuleRecurringWeekly:
		return day.Weekday() == r.weekday
	case models.RuleOneOff:
		d := dateKey(day.Year(), day.Month(), day.Day())
		return d >= r.from && d <= r.until
	}
	return false
}

func parseRule(r *models.AvailabilityRule) (parsedRule, error) {
	start, err := ParseClock(r.StartTime)
	if err != nil {
		return parsedRule{}, fmt.Errorf("%w: start_time: %v", ErrInvalidRule, err)
	}
	end, err := ParseClock(r.EndTime)
	if err != nil {
		return parsedRule{}, fmt.Errorf("%w: end_time: %v", ErrInvalidRule, err)
	}
	if end <= start {
		return parsedRule{}, fmt.Errorf("%w: end_time %s must be after start_time %s", ErrInvalidRule, r.EndTime, r.StartTime)
	}

	pr := parsedRule{kind: r.Kind, span: span{start: start, end: end}, polarity: r.Polarity}
	switch r.Polarity {
	case models.PolarityOpen, models.PolarityBlocked:
	default:
		return parsedRule{}, fmt.Errorf("%w: unknown polarity %q", ErrInvalidRule, r.Polarity)
	}

	switch r.Kind {
	case models.RuleRecurringWeekly:
		if r.Weekday == nil || *r.Weekday < 0 || *r.Weekday > 6 {
			return parsedRule{}, fmt.Errorf("%w: recurring rule needs weekday 0-6", ErrInvalidRule)
		}
		pr.weekday = time.Weekday(*r.Weekday)
	case models.RuleOneOff:
		if r.StartDate == nil {
			return parsedRule{}, fmt.Errorf("%w: one-off rule needs start_date", ErrInvalidRule)
		}
		s := r.StartDate.UTC()
		pr.from = dateKey(s.Year(), s.Month(), s.Day())
		pr.until = pr.from
		if r.EndDate != nil {
			e := r.EndDate.UTC()
			pr.until = dateKey(e.Year(), e.Month(), e.Day())
		}
		if pr.until < pr.from {
			return parsedRule{}, fmt.Errorf("%w: end_date before start_date", ErrInvalidRule)
		}
	default:
		return parsedRule{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	return pr, nil
}

func parseHours(hours []models.DayHours) (map[time.Weekday][]span, error) {
	if hours == nil {
		return nil, nil
	}
	week := make(map[time.Weekday][]span, len(hours))
	for _, d := range hours {
		if d.Weekday < 0 || d.Weekday > 6 {
			return nil, fmt.Errorf("%w: weekday %d", ErrInvalidHours, d.Weekday)
		}
		if !d.Enabled {
			continue
		}
		for _, s := range d.Slots {
			start, err := ParseClock(s.Start)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHours, err)
			}
			end, err := ParseClock(s.End)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHours, err)
			}
			if end <= start {
				return nil, fmt.Errorf("%w: slot %s-%s", ErrInvalidHours, s.Start, s.End)
			}
			wd := time.Weekday(d.Weekday)
			week[wd] = append(week[wd], span{start: start, end: end})
		}
	}
	return week, nil
}

// ParseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted
// as the end of the day.
func ParseClock(s string) (int, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func dateKey(y int, m time.Month, d int) int {
	return y*10000 + int(m)*100 + d
}
