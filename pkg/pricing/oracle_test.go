package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualOracleLatestMarkAtOrBefore(t *testing.T) {
	o := NewManualOracle()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	o.Publish("CHRE", decimal.NewFromFloat(1.0), base)
	o.Publish("CHRE", decimal.NewFromFloat(1.2), base.Add(24*time.Hour))
	o.Publish("CHRE", decimal.NewFromFloat(1.5), base.Add(48*time.Hour))

	nav, err := o.NAVAt(context.Background(), "CHRE", base.Add(30*time.Hour))
	require.NoError(t, err)
	assert.True(t, nav.Equal(decimal.NewFromFloat(1.2)))

	// A mark published later never leaks into an earlier pricing time
	nav, err = o.NAVAt(context.Background(), "CHRE", base)
	require.NoError(t, err)
	assert.True(t, nav.Equal(decimal.NewFromFloat(1.0)))
}

func TestManualOracleNoMark(t *testing.T) {
	o := NewManualOracle()
	o.Publish("CHRE", decimal.NewFromFloat(1.0), time.Now())

	_, err := o.NAVAt(context.Background(), "OTHER", time.Now())
	assert.ErrorIs(t, err, ErrNoMark)

	_, err = o.NAVAt(context.Background(), "CHRE", time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNoMark)
}

func TestStaticOraclePerTokenOverride(t *testing.T) {
	o := NewStaticOracle(decimal.NewFromInt(1))
	o.Set("CHRE", decimal.NewFromFloat(2.5))

	nav, err := o.NAVAt(context.Background(), "CHRE", time.Now())
	require.NoError(t, err)
	assert.True(t, nav.Equal(decimal.NewFromFloat(2.5)))

	nav, err = o.NAVAt(context.Background(), "OTHER", time.Now())
	require.NoError(t, err)
	assert.True(t, nav.Equal(decimal.NewFromInt(1)))
}
