package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/mas-assistant/internal/events"
)

func collect(t *testing.T, chunks <-chan string, done <-chan Response) ([]string, Response) {
	t.Helper()
	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	resp, ok := <-done
	require.True(t, ok)
	return got, resp
}

func TestStreamMessage_Chunks(t *testing.T) {
	m := &fakeModels{chunks: []string{"Hello", ", ", "world"}}
	sink := &eventLog{}
	o := newOrchestrator(nil, nil, m, sink)

	chunks, done, err := o.StreamMessage(context.Background(), Request{Message: "hi", Profile: staffProfile()})
	require.NoError(t, err)
	got, resp := collect(t, chunks, done)

	assert.Equal(t, []string{"Hello", ", ", "world"}, got)
	assert.Equal(t, "Hello, world", resp.Text)
	assert.Equal(t, "fake", resp.Provider)
	assert.False(t, resp.Fallback)
	require.Len(t, sink.got, 1)
	assert.True(t, sink.got[0].Stream)
	assert.Equal(t, events.OutcomeOK, sink.got[0].Outcome)
}

func TestStreamMessage_FailureBeforeFirstChunk(t *testing.T) {
	m := &fakeModels{streamErr: errors.New("503")}
	o := newOrchestrator(nil, nil, m, nil)

	chunks, done, err := o.StreamMessage(context.Background(), Request{Message: "donor ideas", Profile: staffProfile()})
	require.NoError(t, err)
	got, resp := collect(t, chunks, done)

	require.Len(t, got, 1)
	assert.True(t, resp.Fallback)
	assert.Equal(t, resp.Text, got[0])
	assert.True(t, strings.HasPrefix(got[0], "Here are some fundraising strategies"))
}

func TestStreamMessage_MidStreamFailureKeepsText(t *testing.T) {
	m := &fakeModels{chunks: []string{"partial"}, streamErr: errors.New("reset")}
	sink := &eventLog{}
	o := newOrchestrator(nil, nil, m, sink)

	chunks, done, err := o.StreamMessage(context.Background(), Request{Message: "hi", Profile: staffProfile()})
	require.NoError(t, err)
	got, resp := collect(t, chunks, done)

	assert.Equal(t, []string{"partial"}, got)
	assert.Equal(t, "partial", resp.Text)
	assert.False(t, resp.Fallback)
	assert.Equal(t, "error", resp.FinishReason)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "reset", sink.got[0].Error)
}

func TestStreamMessage_UnsupportedUsesDispatch(t *testing.T) {
	m := &fakeModels{noStream: true, text: "whole answer"}
	o := newOrchestrator(nil, nil, m, nil)

	chunks, done, err := o.StreamMessage(context.Background(), Request{Message: "hi", Profile: staffProfile()})
	require.NoError(t, err)
	got, resp := collect(t, chunks, done)

	assert.Equal(t, []string{"whole answer"}, got)
	assert.Equal(t, "fake-1", resp.Model)
	assert.Equal(t, 1, m.calls)
}

func TestStreamMessage_Validation(t *testing.T) {
	o := newOrchestrator(nil, nil, &fakeModels{}, nil)
	chunks, done, err := o.StreamMessage(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Nil(t, chunks)
	assert.Nil(t, done)
}
