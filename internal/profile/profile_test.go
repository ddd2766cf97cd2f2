package profile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, 5, p.Smoothing.MedianWindow)
	assert.Equal(t, 0.3, p.Smoothing.EMAAlpha)
	assert.Equal(t, "water", p.Orientation.WaterReceiver)
	assert.Equal(t, "harbor", p.Orientation.HarborReceiver)
	assert.Zero(t, p.Bias("water"))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"even window", func(p *Profile) { p.Smoothing.MedianWindow = 4 }},
		{"window too small", func(p *Profile) { p.Smoothing.MedianWindow = 1 }},
		{"alpha zero", func(p *Profile) { p.Smoothing.EMAAlpha = 0 }},
		{"alpha above one", func(p *Profile) { p.Smoothing.EMAAlpha = 1.2 }},
		{"alpha NaN", func(p *Profile) { p.Smoothing.EMAAlpha = math.NaN() }},
		{"negative dominance", func(p *Profile) { p.Decision.MinDominanceDB = -1 }},
		{"zero lag", func(p *Profile) { p.Decision.MaxPeakLagS = 0 }},
		{"negative debounce", func(p *Profile) { p.Decision.DebounceS = -0.5 }},
		{"infinite bias", func(p *Profile) { p.BiasDB["water"] = math.Inf(1) }},
		{"missing receiver", func(p *Profile) { p.Orientation.HarborReceiver = "" }},
		{"same receiver", func(p *Profile) { p.Orientation.HarborReceiver = p.Orientation.WaterReceiver }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidProfile)
		})
	}
}

func TestValidate_AlphaOneAndZeroDebounceAllowed(t *testing.T) {
	p := Default()
	p.Smoothing.EMAAlpha = 1
	p.Decision.DebounceS = 0
	assert.NoError(t, p.Validate())
}

func TestClone_IsIndependent(t *testing.T) {
	p := Default()
	p.BiasDB["water"] = 1.5
	c := p.Clone()
	c.BiasDB["water"] = -3
	assert.Equal(t, 1.5, p.BiasDB["water"])
}

func TestStore_SwapKeepsCurrentOnInvalid(t *testing.T) {
	s := NewStore(nil)
	assert.True(t, s.Degraded())
	assert.Equal(t, 0, s.Current().Version)

	good := Default()
	good.Version = 2
	old, err := s.Swap(good)
	require.NoError(t, err)
	assert.Equal(t, 0, old.Version)
	assert.False(t, s.Degraded())

	bad := Default()
	bad.Smoothing.MedianWindow = 2
	_, err = s.Swap(bad)
	require.Error(t, err)
	assert.Same(t, good, s.Current())
}
