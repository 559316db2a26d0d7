package cloudsync

import (
	"strconv"
	"time"

	"github.com/volteria/controller-core/internal/logging/store"
)

// downsample selects one representative device_readings row per
// (device, register) bucket of the configured width.
// It returns the representatives to upload and the full set of row ids
// considered — all of which get marked synced regardless of whether they
// were the chosen representative, since their data lives in the
// representative's bucket.
func downsample(rows []store.DeviceReadingRow, bucketSeconds map[string]float64, defaultBucketSeconds float64) ([]store.DeviceReadingRow, []string) {
	type bucketKey struct {
		deviceID, register string
		bucket             int64
	}

	chosen := make(map[bucketKey]store.DeviceReadingRow)
	allIDs := make([]string, 0, len(rows))

	for _, row := range rows {
		allIDs = append(allIDs, row.ID)

		width := defaultBucketSeconds
		if w, ok := bucketSeconds[row.DeviceID+"/"+row.RegisterName]; ok && w > 0 {
			width = w
		}
		if width <= 0 {
			width = 1
		}

		ts, err := time.Parse(time.RFC3339, row.Timestamp)
		var bucket int64
		if err == nil {
			bucket = ts.Unix() / int64(width)
		} else if n, perr := strconv.ParseInt(row.Timestamp, 10, 64); perr == nil {
			bucket = n / int64(width)
		}

		key := bucketKey{deviceID: row.DeviceID, register: row.RegisterName, bucket: bucket}
		existing, ok := chosen[key]
		if !ok || row.Timestamp > existing.Timestamp {
			chosen[key] = row
		}
	}

	representatives := make([]store.DeviceReadingRow, 0, len(chosen))
	for _, row := range chosen {
		representatives = append(representatives, row)
	}
	return representatives, allIDs
}
