package model

import "time"

// Align rounds t down to the nearest multiple of periodSeconds since the
// Unix epoch. It is a
// pure function with no state, deliberately unit-tested in isolation since
// every cross-component agreement (bucketing, dedup, downsampling) depends
// on it being deterministic.
func Align(t time.Time, periodSeconds float64) time.Time {
	if periodSeconds <= 0 {
		return t.UTC()
	}
	epoch := float64(t.UnixNano()) / 1e9
	aligned := floorDiv(epoch, periodSeconds) * periodSeconds
	sec := int64(aligned)
	nsec := int64((aligned - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func floorDiv(a, b float64) float64 {
	q := a / b
	f := float64(int64(q))
	if q < f {
		f--
	}
	return f
}

// Bucket returns the half-open time interval [Align(t,period), Align(t,period)+period)
// that t falls into.
type Bucket struct {
	Start time.Time
	End   time.Time
}

// BucketFor computes the Bucket containing t for the given period.
func BucketFor(t time.Time, periodSeconds float64) Bucket {
	start := Align(t, periodSeconds)
	return Bucket{
		Start: start,
		End:   start.Add(time.Duration(periodSeconds * float64(time.Second))),
	}
}
