package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceClass(t *testing.T) {
	cases := map[string]DeviceClass{
		"channel":     LevelMetered,
		" Counter ":   IncrementalCounter,
		"traditional": IncrementalCounter,
		"pump":        TotalMeter,
		"total_meter": TotalMeter,
	}
	for in, want := range cases {
		got, err := ParseDeviceClass(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDeviceClass("sprinkler")
	assert.Error(t, err)
}

func TestPlotContext_Validate(t *testing.T) {
	ok := PlotContext{PlotID: "p1", OperatorID: "o1", Area: 2, IE: 0.65, WA: 0.5, RequiredMM: 10, DeviceClass: LevelMetered}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Area = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.IE = 1.2
	assert.Error(t, bad.Validate())

	bad = ok
	bad.WA = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.DeviceClass = "x"
	assert.Error(t, bad.Validate())
}
