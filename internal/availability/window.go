package availability

import (
	"sort"
	"time"
)

// Window is a half-open [Start, End) interval.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether [start, start+d) lies entirely inside w.
func (w Window) Contains(start time.Time, d time.Duration) bool {
	return !start.Before(w.Start) && !start.Add(d).After(w.End)
}

// Merge sorts windows and unions overlapping or touching ones.
// Empty and inverted windows are dropped.
func Merge(ws []Window) []Window {
	in := make([]Window, 0, len(ws))
	for _, w := range ws {
		if w.End.After(w.Start) {
			in = append(in, w)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})

	out := []Window{in[0]}
	for _, w := range in[1:] {
		last := &out[len(out)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Subtract removes every cut from base. A cut may shrink a window, split it
// in two or remove it entirely.
func Subtract(base, cuts []Window) []Window {
	base = Merge(base)
	cuts = Merge(cuts)
	if len(cuts) == 0 {
		return base
	}

	var out []Window
	for _, b := range base {
		cur := b
		alive := true
		for _, c := range cuts {
			if !c.End.After(cur.Start) {
				continue
			}
			if !c.Start.Before(cur.End) {
				break
			}
			if c.Start.After(cur.Start) {
				out = append(out, Window{Start: cur.Start, End: c.Start})
			}
			if !c.End.Before(cur.End) {
				alive = false
				break
			}
			cur.Start = c.End
		}
		if alive && cur.End.After(cur.Start) {
			out = append(out, cur)
		}
	}
	return out
}

// Intersect returns the portions covered by both a and b.
func Intersect(a, b []Window) []Window {
	a = Merge(a)
	b = Merge(b)

	var out []Window
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := later(a[i].Start, b[j].Start)
		end := earlier(a[i].End, b[j].End)
		if end.After(start) {
			out = append(out, Window{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

// Clip bounds every window to [lo, hi).
func Clip(ws []Window, lo, hi time.Time) []Window {
	var out []Window
	for _, w := range ws {
		start := later(w.Start, lo)
		end := earlier(w.End, hi)
		if end.After(start) {
			out = append(out, Window{Start: start, End: end})
		}
	}
	return out
}

// AtLeast drops windows that cannot fit a single slot of length d.
func AtLeast(ws []Window, d time.Duration) []Window {
	var out []Window
	for _, w := range ws {
		if w.Duration() >= d {
			out = append(out, w)
		}
	}
	return out
}

// ExcludeBusy carves booked intervals out of open windows for display.
func ExcludeBusy(ws, busy []Window, d time.Duration) []Window {
	return AtLeast(Subtract(ws, busy), d)
}

// CandidateStarts lists slot starts inside each window at the given stride.
// A non-positive stride falls back to the slot length.
func CandidateStarts(ws []Window, d, stride time.Duration) []time.Time {
	if d <= 0 {
		return nil
	}
	if stride <= 0 {
		stride = d
	}
	var out []time.Time
	for _, w := range ws {
		for t := w.Start; !t.Add(d).After(w.End); t = t.Add(stride) {
			out = append(out, t)
		}
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
