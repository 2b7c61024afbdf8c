package vision

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

func TestDefaultsFromConfig(t *testing.T) {
	d, err := DefaultsFromConfig(config.VisionConfig{
		DefaultThreshold: 0.8,
		NMSThreshold:     0.5,
		MaxResults:       3,
		AlphaMin:         20,
		AlphaBackground:  "#102030",
	})
	require.NoError(t, err)

	stock := DefaultDefaults()
	assert.Equal(t, 0.8, d.Threshold)
	assert.Equal(t, stock.AlphaThreshold, d.AlphaThreshold)
	assert.Equal(t, 0.5, d.IoU)
	assert.Equal(t, 3, d.MaxResults)
	assert.Equal(t, uint8(20), d.AlphaMin)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}, d.Background)
	assert.Equal(t, stock.Scales, d.Scales)

	empty, err := DefaultsFromConfig(config.VisionConfig{})
	require.NoError(t, err)
	assert.Equal(t, stock, empty)
}

func TestParseHexColor(t *testing.T) {
	testCases := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{in: "#585E9B", want: color.RGBA{R: 88, G: 94, B: 155, A: 255}},
		{in: "ffffff", want: color.RGBA{R: 255, G: 255, B: 255, A: 255}},
		{in: "#fff", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHexColor(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
