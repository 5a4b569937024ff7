package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/roundup-crawler/internal/roundup"
)

func TestNowIsUTCWallTime(t *testing.T) {
	t.Parallel()

	var clk roundup.Clock = New()
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	assert.Equal(t, time.UTC, got.Location())
	assert.False(t, got.Before(before.Add(-time.Second)))
	assert.False(t, got.After(after.Add(time.Second)))
}

// Error records persist FailedAt; a zero-value Clock must be as good as New().
func TestZeroValueClockTimestampsErrorRecords(t *testing.T) {
	t.Parallel()

	rec := roundup.ErrorRecord{Path: "in/a.json", Error: "boom", FailedAt: Clock{}.Now()}
	require.False(t, rec.FailedAt.IsZero())
	_, offset := rec.FailedAt.Zone()
	assert.Zero(t, offset)
}
