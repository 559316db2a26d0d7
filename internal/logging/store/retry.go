package store

import "time"

func sleepFor(seconds float64) <-chan time.Time {
	return time.After(time.Duration(seconds * float64(time.Second)))
}
