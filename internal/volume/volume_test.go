package volume

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredVolume(t *testing.T) {
	// 10 mm over 2 ha, half wetted, 65 % efficient.
	got := RequiredVolume(10, 2, 0.5, 0.65)
	assert.InDelta(t, 153.846, got, 0.001)
}

func TestDepthFromVolume_InverseOfRequired(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		d := r.Float64() * 60
		a := 0.01 + r.Float64()*20
		w := 0.05 + r.Float64()*0.95
		e := 0.05 + r.Float64()*0.95
		v := RequiredVolume(d, a, w, e)
		assert.InDelta(t, d, DepthFromVolume(v, a, w, e), 1e-9)
	}
}

func TestRate_OutOfTableIsZero(t *testing.T) {
	tbl := DefaultFlowRateTable()
	assert.Equal(t, 0.27, tbl.Rate(10))
	assert.Zero(t, tbl.Rate(0))
	assert.Zero(t, tbl.Rate(-3))
	assert.Zero(t, tbl.Rate(99))
	assert.Equal(t, 25, tbl.MaxLevel())
	assert.True(t, tbl.InRange(0))
	assert.False(t, tbl.InRange(26))
}

func TestIntegrate_UsesEarlierLevel(t *testing.T) {
	tbl := DefaultFlowRateTable()
	assert.InDelta(t, 0.27*30, Integrate(tbl, 10, 30*time.Minute), 1e-12)
	assert.Zero(t, Integrate(tbl, 10, 0))
	assert.Zero(t, Integrate(tbl, 10, -5*time.Minute))
}

func TestAccumulate_LeftRule(t *testing.T) {
	tbl := DefaultFlowRateTable()
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 2 + r.Intn(10)
		readings := make([]Reading, n)
		at := t0
		want := 0.0
		for i := range readings {
			readings[i] = Reading{Level: r.Intn(26), At: at}
			step := time.Duration(r.Intn(40)) * time.Minute
			if i < n-1 {
				want += tbl.Rate(readings[i].Level) * step.Minutes()
			}
			at = at.Add(step)
		}
		assert.InDelta(t, want, Accumulate(tbl, readings), 1e-9)
	}
}

func TestTimeToDeliver(t *testing.T) {
	d, ok := TimeToDeliver(2.7, 0.27)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, d.Round(time.Second))

	_, ok = TimeToDeliver(5, 0)
	assert.False(t, ok)

	d, ok = TimeToDeliver(-1, 0.27)
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestLoadFlowRateTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_level: 3\nrates:\n  1: 0.1\n  2: 0.2\n  3: 0.4\n"), 0o600))

	tbl, err := LoadFlowRateTable(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.MaxLevel())
	assert.Equal(t, 0.4, tbl.Rate(3))
	assert.Equal(t, []int{1, 2, 3}, tbl.Levels())
}

func TestNewFlowRateTable_Rejects(t *testing.T) {
	_, err := NewFlowRateTable(nil, 0)
	assert.Error(t, err)
	_, err = NewFlowRateTable(map[int]float64{1: -1}, 0)
	assert.Error(t, err)
}
