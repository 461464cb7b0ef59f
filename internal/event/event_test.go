package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "RunStarted", typ: RunStarted},
		{want: "RunInterrupted", typ: RunInterrupted},
		{want: "DirStarted", typ: DirStarted},
		{want: "DirCompleted", typ: DirCompleted},
		{want: "DirSkipped", typ: DirSkipped},
		{want: "DirFailed", typ: DirFailed},
		{want: "VerifyStarted", typ: VerifyStarted},
		{want: "VerifyOK", typ: VerifyOK},
		{want: "VerifyFailed", typ: VerifyFailed},
		{want: "Discrepancy", typ: Discrepancy},
		{want: "RetryStarted", typ: RetryStarted},
		{want: "RetryCopied", typ: RetryCopied},
		{want: "RetrySkipped", typ: RetrySkipped},
		{want: "RetryFailed", typ: RetryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
}

func TestEventZeroValue(t *testing.T) {
	var e Event
	assert.Equal(t, Type(0), e.Type)
	assert.True(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Name)
	assert.Empty(t, e.Path)
	assert.Zero(t, e.Index)
	assert.Zero(t, e.Count)
	require.NoError(t, e.Error)
}

func TestEmit(t *testing.T) {
	ch := make(chan Event, 1)
	Emit(ch, Event{Type: DirCompleted, Name: "photos", Index: 1, Total: 3})

	got := <-ch
	assert.Equal(t, DirCompleted, got.Type)
	assert.Equal(t, "photos", got.Name)
	assert.False(t, got.Timestamp.IsZero())
}

func TestEmitKeepsTimestamp(t *testing.T) {
	ch := make(chan Event, 1)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	Emit(ch, Event{Type: DirStarted, Timestamp: ts})
	assert.Equal(t, ts, (<-ch).Timestamp)
}

func TestEmitNilChannel(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, Event{Type: RunStarted}) })
}
