package cloudsync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/volteria/controller-core/internal/logging/store"
)

func TestDownsample_SelectsOneRepresentativePerBucket(t *testing.T) {
	rows := []store.DeviceReadingRow{
		{ID: "r1", DeviceID: "inv1", RegisterName: "p", Timestamp: "2026-07-29T10:00:00Z"},
		{ID: "r2", DeviceID: "inv1", RegisterName: "p", Timestamp: "2026-07-29T10:00:03Z"},
		{ID: "r3", DeviceID: "inv1", RegisterName: "p", Timestamp: "2026-07-29T10:00:07Z"},
	}

	selected, allIDs := downsample(rows, nil, 5)

	assert.Len(t, allIDs, 3)
	// Bucket width 5s: r1/r2 share bucket 0 (floor(0/5)=0, floor(3/5)=0),
	// r3 is in the next bucket (floor(7/5)=1).
	assert.Len(t, selected, 2)
}

func TestDownsample_PerRegisterBucketOverride(t *testing.T) {
	rows := []store.DeviceReadingRow{
		{ID: "r1", DeviceID: "inv1", RegisterName: "p", Timestamp: "2026-07-29T10:00:00Z"},
		{ID: "r2", DeviceID: "inv1", RegisterName: "p", Timestamp: "2026-07-29T10:00:59Z"},
	}

	selected, _ := downsample(rows, map[string]float64{"inv1/p": 120}, 5)
	assert.Len(t, selected, 1)
}

func TestDownsample_EmptyInputYieldsEmptyOutput(t *testing.T) {
	selected, allIDs := downsample(nil, nil, 5)
	assert.Empty(t, selected)
	assert.Empty(t, allIDs)
}
