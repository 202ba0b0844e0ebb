package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInput(t *testing.T) {
	cases := []struct {
		text string
		kind InputKind
		num  float64
	}{
		{"12", InputNumber, 12},
		{"  7 cm ", InputNumber, 7},
		{"12,5", InputNumber, 12.5},
		{"40 m3", InputNumber, 40},
		{"-3", InputNumber, -3},
		{"/start", InputBegin, 0},
		{"Send recommendation", InputBegin, 0},
		{"save data", InputFinish, 0},
		{"/save", InputFinish, 0},
		{"/cancel", InputCancel, 0},
		{"No water", InputNoWater, 0},
		{"twelve", InputUnknown, 0},
		{"12 litres", InputUnknown, 0},
		{"", InputUnknown, 0},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			in := ParseInput(tc.text)
			assert.Equal(t, tc.kind, in.Kind)
			assert.InDelta(t, tc.num, in.Number, 1e-9)
		})
	}
}
