package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

func TestStore_GetOrCreate(t *testing.T) {
	st := NewStore()
	pc := plot("p1", model.LevelMetered)
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	key := KeyFor(pc, day)

	s, created := st.GetOrCreate(key, day, pc, day)
	require.True(t, created)
	assert.InDelta(t, 153.846, s.RequiredM3, 1e-3)
	assert.NotEmpty(t, s.ID)

	s.State = Active
	s.Readings = append(s.Readings, model.LevelReading{Level: 3})
	st.Put(s)

	again, created := st.GetOrCreate(key, day, pc, day)
	assert.False(t, created)
	assert.Equal(t, s.ID, again.ID)
	assert.Equal(t, Active, again.State)

	again.Readings[0].Level = 9
	cur, _ := st.Get(key.String())
	assert.Equal(t, 3, cur.Readings[0].Level, "store must hand out copies")

	assert.True(t, st.Remove(key.String()))
	assert.False(t, st.Remove(key.String()))
	assert.Zero(t, st.Len())
}

func TestStore_ByOperator(t *testing.T) {
	st := NewStore()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"b", "a"} {
		pc := plot(id, model.TotalMeter)
		st.GetOrCreate(KeyFor(pc, day), day, pc, day)
	}
	other := plot("c", model.TotalMeter)
	other.OperatorID = "op-2"
	st.GetOrCreate(KeyFor(other, day), day, other, day)

	got := st.ByOperator("op-1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key.PlotID)
	assert.Len(t, st.List(), 3)
}

func TestKeyLocks_SerializePerKey(t *testing.T) {
	locks := newKeyLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size())
}
