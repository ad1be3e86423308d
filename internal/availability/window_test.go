package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func w(startH, startM, endH, endM int) Window {
	return Window{Start: at(monday, startH, startM), End: at(monday, endH, endM)}
}

func TestMerge(t *testing.T) {
	got := Merge([]Window{w(13, 0, 14, 0), w(9, 0, 10, 0), w(10, 0, 11, 0), w(9, 30, 9, 45), w(15, 0, 15, 0)})

	assert.Equal(t, []Window{w(9, 0, 11, 0), w(13, 0, 14, 0)}, got)
	assert.Nil(t, Merge(nil))
}

func TestSubtract(t *testing.T) {
	base := []Window{w(9, 0, 17, 0)}

	assert.Equal(t, []Window{w(9, 0, 12, 0), w(13, 0, 17, 0)}, Subtract(base, []Window{w(12, 0, 13, 0)}))
	assert.Equal(t, []Window{w(10, 0, 17, 0)}, Subtract(base, []Window{w(8, 0, 10, 0)}))
	assert.Equal(t, []Window{w(9, 0, 16, 0)}, Subtract(base, []Window{w(16, 0, 18, 0)}))
	assert.Empty(t, Subtract(base, []Window{w(8, 0, 18, 0)}))
	assert.Equal(t, base, Subtract(base, nil))
	assert.Equal(t,
		[]Window{w(9, 0, 10, 0), w(11, 0, 12, 0), w(13, 0, 17, 0)},
		Subtract(base, []Window{w(10, 0, 11, 0), w(12, 0, 13, 0)}),
	)
}

func TestIntersect(t *testing.T) {
	a := []Window{w(7, 0, 20, 0)}
	b := []Window{w(8, 0, 12, 0), w(13, 0, 18, 0)}

	assert.Equal(t, []Window{w(8, 0, 12, 0), w(13, 0, 18, 0)}, Intersect(a, b))
	assert.Empty(t, Intersect(a, nil))
	assert.Empty(t, Intersect([]Window{w(9, 0, 10, 0)}, []Window{w(10, 0, 11, 0)}))
}

func TestClipAndAtLeast(t *testing.T) {
	ws := []Window{w(9, 0, 12, 0), w(13, 0, 17, 0)}

	assert.Equal(t, []Window{w(10, 0, 12, 0), w(13, 0, 14, 0)}, Clip(ws, at(monday, 10, 0), at(monday, 14, 0)))
	assert.Equal(t, []Window{w(13, 0, 17, 0)}, AtLeast(ws, 4*time.Hour))
}

func TestExcludeBusy(t *testing.T) {
	open := []Window{w(9, 0, 17, 0)}
	busy := []Window{w(10, 0, 11, 0), w(11, 30, 16, 30)}

	got := ExcludeBusy(open, busy, time.Hour)

	assert.Equal(t, []Window{w(9, 0, 10, 0)}, got)
}

func TestCandidateStarts(t *testing.T) {
	ws := []Window{w(9, 0, 11, 0)}

	assert.Equal(t,
		[]time.Time{at(monday, 9, 0), at(monday, 10, 0)},
		CandidateStarts(ws, time.Hour, 0),
	)
	assert.Equal(t,
		[]time.Time{at(monday, 9, 0), at(monday, 9, 30), at(monday, 10, 0)},
		CandidateStarts(ws, time.Hour, 30*time.Minute),
	)
	assert.Empty(t, CandidateStarts(ws, 3*time.Hour, 0))
}

func TestWindowContains(t *testing.T) {
	win := w(9, 0, 17, 0)

	assert.True(t, win.Contains(at(monday, 9, 0), time.Hour))
	assert.True(t, win.Contains(at(monday, 16, 0), time.Hour))
	assert.False(t, win.Contains(at(monday, 16, 30), time.Hour))
	assert.False(t, win.Contains(at(monday, 8, 30), time.Hour))
}
