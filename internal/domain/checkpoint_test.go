package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanStatus_CanTransition(t *testing.T) {
	all := []ScanStatus{ScanRunning, ScanPaused, ScanCompleted, ScanFailed}
	allowed := map[[2]ScanStatus]bool{
		{ScanRunning, ScanRunning}:   true,
		{ScanRunning, ScanPaused}:    true,
		{ScanRunning, ScanCompleted}: true,
		{ScanRunning, ScanFailed}:    true,
		{ScanPaused, ScanRunning}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]ScanStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, ScanCompleted.Terminal())
	assert.True(t, ScanFailed.Terminal())
	assert.False(t, ScanPaused.Terminal())
	assert.False(t, ScanStatus("bogus").Valid())
}
