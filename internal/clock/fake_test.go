package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake(t0)
	var got []string
	c.AfterFunc(10*time.Minute, func() { got = append(got, "b") })
	c.AfterFunc(5*time.Minute, func() { got = append(got, "a") })
	c.AfterFunc(time.Hour, func() { got = append(got, "late") })

	c.Advance(15 * time.Minute)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, t0.Add(15*time.Minute), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(t0)
	fired := false
	tm := c.AfterFunc(time.Minute, func() { fired = true })

	require.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestFake_CallbackSeesFireTimeAndCanRearm(t *testing.T) {
	c := NewFake(t0)
	var fires []time.Time
	var arm func()
	arm = func() {
		c.AfterFunc(15*time.Minute, func() {
			fires = append(fires, c.Now())
			arm()
		})
	}
	arm()

	c.Advance(46 * time.Minute)

	require.Len(t, fires, 3)
	assert.Equal(t, t0.Add(15*time.Minute), fires[0])
	assert.Equal(t, t0.Add(45*time.Minute), fires[2])
}

func TestMidnightIn(t *testing.T) {
	loc := time.FixedZone("UZT", 5*3600)
	ts := time.Date(2025, 6, 1, 20, 30, 0, 0, time.UTC) // 01:30 next day local
	m := MidnightIn(ts, loc)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, loc), m)
}
