package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/httphealth"
	"github.com/volteria/controller-core/internal/state"
)

func TestRestartAll_StopsExtractsAndWaitsForRestartedHealth(t *testing.T) {
	reporter := httphealth.NewReporter("control")
	var stopped bool
	svc := &restartableFakeService{
		reporter: reporter,
		onStart: func(ctx context.Context) error {
			reporter.SetStatus(httphealth.StatusHealthy)
			<-ctx.Done()
			reporter.SetStatus(httphealth.StatusStopped)
			return nil
		},
		onStop: func() { stopped = true },
	}

	sv := New([]Component{{Name: "control", Critical: true, Service: svc}}, state.New(), testLogger())
	sv.startupProbeTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go sv.supervise(ctx, &wg, sv.components[0])

	// Give the supervised goroutine a moment to start and report healthy.
	time.Sleep(20 * time.Millisecond)

	extracted := false
	err := sv.restartAll(ctx, "/tmp/staged.pkg", func(path string) error {
		extracted = true
		assert.Equal(t, "/tmp/staged.pkg", path)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, extracted)
	assert.True(t, stopped)
}

func TestRestartAll_ExtractionFailureIsReported(t *testing.T) {
	reporter := httphealth.NewReporter("control")
	svc := &restartableFakeService{
		reporter: reporter,
		onStart:  func(ctx context.Context) error { <-ctx.Done(); return nil },
		onStop:   func() {},
	}
	sv := New([]Component{{Name: "control", Service: svc}}, state.New(), testLogger())

	err := sv.restartAll(context.Background(), "/tmp/bad.pkg", func(string) error {
		return errors.New("corrupt archive")
	})
	require.Error(t, err)
}

type restartableFakeService struct {
	reporter *httphealth.Reporter
	onStart  func(ctx context.Context) error
	onStop   func()
}

func (f *restartableFakeService) Start(ctx context.Context) error { return f.onStart(ctx) }
func (f *restartableFakeService) Stop()                          { f.onStop() }
func (f *restartableFakeService) Reporter() *httphealth.Reporter { return f.reporter }
