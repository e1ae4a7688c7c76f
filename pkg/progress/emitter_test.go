package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEmitter(clock *fakeClock) (*Emitter, *[]Event) {
	var events []Event
	e := NewEmitter(func(ev Event) { events = append(events, ev) },
		WithInterval(100*time.Millisecond), WithClock(clock.Now))
	return e, &events
}

func TestEmitterThrottlesNonTerminalUpdates(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e, events := newTestEmitter(clock)

	assert.True(t, e.Progress("uploading", 10, "Saving file"))
	clock.Advance(10 * time.Millisecond)
	assert.False(t, e.Progress("uploading", 20, ""))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, e.Progress("extracting", 30, ""))

	require.Len(t, *events, 2)
	assert.Equal(t, 10, (*events)[0].Progress)
	assert.Equal(t, 30, (*events)[1].Progress)
}

func TestEmitterTerminalEventsBypassThrottle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e, events := newTestEmitter(clock)

	e.Progress("indexing", 85, "")
	e.Complete("doc-1", "notes.md")
	e.Fail("upload_failed", "ignored after completion")

	require.Len(t, *events, 2)
	last := (*events)[1]
	assert.Equal(t, TypeComplete, last.Type)
	assert.Equal(t, 100, e.Current())
	assert.False(t, e.Progress("ready", 100, ""), "no progress after terminal event")
}

func TestEmitterFailAlwaysDelivered(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e, events := newTestEmitter(clock)

	e.Progress("extracting", 40, "")
	e.Fail("extraction_failed", "no text")

	require.Len(t, *events, 2)
	assert.True(t, (*events)[1].Terminal())
	assert.Equal(t, "extraction_failed", (*events)[1].Error)
}

func TestEmitterProgressNeverDecreases(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e, events := newTestEmitter(clock)

	e.Progress("extracting", 50, "")
	clock.Advance(time.Second)
	e.Progress("extracting", 40, "")

	require.Len(t, *events, 2)
	assert.Equal(t, 50, (*events)[1].Progress)
}

func TestEmittersDoNotShareThrottleState(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	a, aEvents := newTestEmitter(clock)
	b, bEvents := newTestEmitter(clock)

	a.Progress("uploading", 10, "")
	b.Progress("uploading", 10, "")

	assert.Len(t, *aEvents, 1)
	assert.Len(t, *bEvents, 1)
}

func TestEventWireShapes(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Type: TypeProgress, Status: "uploading", Progress: 10, Message: "Saving file"},
			`{"type":"progress","status":"uploading","progress":10,"message":"Saving file"}`},
		{Event{Type: TypeComplete, DocumentID: "d1", Name: "a.pdf"},
			`{"type":"complete","documentId":"d1","name":"a.pdf","progress":100}`},
		{Event{Type: TypeError, Error: "file_too_large"},
			`{"type":"error","error":"file_too_large"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))
	}
}
