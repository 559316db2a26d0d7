package model

import (
	"testing"
	"time"
)

func TestAlignIdempotent(t *testing.T) {
	periods := []float64{0.5, 1, 5, 60, 7200}
	ts := time.Date(2026, 3, 5, 14, 33, 17, 250_000_000, time.UTC)
	for _, p := range periods {
		once := Align(ts, p)
		twice := Align(once, p)
		if !once.Equal(twice) {
			t.Errorf("period %v: Align not idempotent: %v != %v", p, once, twice)
		}
	}
}

func TestAlignSameBucketAgrees(t *testing.T) {
	period := 60.0
	t1 := time.Date(2026, 3, 5, 14, 33, 1, 0, time.UTC)
	t2 := time.Date(2026, 3, 5, 14, 33, 59, 0, time.UTC)
	if !Align(t1, period).Equal(Align(t2, period)) {
		t.Fatalf("expected same bucket: %v vs %v", Align(t1, period), Align(t2, period))
	}
}

func TestAlignSubSecondPeriod(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 750_000_000, time.UTC)
	got := Align(ts, 0.5)
	want := time.Date(2026, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestAlignHourPlusPeriod(t *testing.T) {
	ts := time.Date(2026, 1, 1, 3, 10, 0, 0, time.UTC)
	got := Align(ts, 7200)
	want := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBucketForContainsSource(t *testing.T) {
	ts := time.Date(2026, 1, 1, 3, 10, 0, 0, time.UTC)
	b := BucketFor(ts, 300)
	if ts.Before(b.Start) || !ts.Before(b.End) {
		t.Fatalf("bucket %v-%v does not contain %v", b.Start, b.End, ts)
	}
}
