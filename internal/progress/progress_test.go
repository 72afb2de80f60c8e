package progress

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/leadforge/enrichd/pkg/types"
)

type captureSink struct {
	events []types.ProgressEvent
}

func (s *captureSink) Emit(_ context.Context, event types.ProgressEvent) {
	s.events = append(s.events, event)
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	multi := MultiSink{a, b}

	event := types.ProgressEvent{
		JobID:     uuid.New(),
		RowsDone:  10,
		RowsTotal: 100,
		Timestamp: time.Now().UTC(),
	}
	multi.Emit(context.Background(), event)

	assert.Equal(t, []types.ProgressEvent{event}, a.events)
	assert.Equal(t, []types.ProgressEvent{event}, b.events)
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "enrichd:progress:abc", ChannelFor("abc"))
}

func TestLogSink_DoesNotPanicOnZeroEvent(t *testing.T) {
	sink := NewLogSink(nil)

	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), types.ProgressEvent{})
	})
}
