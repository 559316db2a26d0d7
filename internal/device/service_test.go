package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volteria/controller-core/internal/applog"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/state"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Level: "error", Format: "text", Component: "device-test"})
}

func TestMarkWriteFailed_FlipsPublishedWriteSuccessFalse(t *testing.T) {
	st := state.New()
	ctx := context.Background()

	require.NoError(t, st.Write(ctx, state.KeyControlState, model.ControlState{
		OperationMode: "zero_generator_feed",
		WriteSuccess:  true,
	}))

	s := &Service{store: st, log: testLogger()}
	s.markWriteFailed(ctx)

	var cs model.ControlState
	require.NoError(t, st.ReadFresh(ctx, state.KeyControlState, &cs))
	assert.False(t, cs.WriteSuccess)
	assert.Equal(t, "zero_generator_feed", cs.OperationMode, "reconciliation must preserve the rest of the document")
}

func TestMarkWriteFailed_NoPriorControlStateIsHarmless(t *testing.T) {
	st := state.New()
	ctx := context.Background()

	s := &Service{store: st, log: testLogger()}
	s.markWriteFailed(ctx)

	var cs model.ControlState
	require.NoError(t, st.ReadFresh(ctx, state.KeyControlState, &cs))
	assert.False(t, cs.WriteSuccess)
}
