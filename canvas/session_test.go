package canvas

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

const testTimeout = 5 * time.Second

func newTestSession(t *testing.T, store *MemoryStore, settings *CanvasSessionSettings) (*CanvasSession, string, string) {
	ctx := context.Background()

	uid, err := store.SignInAnonymously(ctx)
	assert.Equal(t, err, nil)
	err = store.CreateProfile(ctx, uid)
	assert.Equal(t, err, nil)
	pairingId, err := store.CreatePairing(ctx, uid)
	assert.Equal(t, err, nil)

	session := NewCanvasSession(ctx, uid, pairingId, store, store, store, store, settings)
	t.Cleanup(session.Close)
	return session, uid, pairingId
}

func awaitState(t *testing.T, session *CanvasSession, predicate func(state *CanvasState) bool) *CanvasState {
	states := make(chan *CanvasState, 1024)
	removeCallback := session.AddStateChangeCallback(func(state *CanvasState) {
		select {
		case states <- state:
		default:
		}
	})
	defer removeCallback()

	if state := session.State(); predicate(state) {
		return state
	}

	timeout := time.After(testTimeout)
	for {
		select {
		case state := <-states:
			if predicate(state) {
				return state
			}
		case <-timeout:
			t.Fatalf("timeout waiting for state")
			return nil
		}
	}
}

func strokeIds(strokes []Stroke) []string {
	ids := make([]string, len(strokes))
	for i, stroke := range strokes {
		ids[i] = stroke.Id
	}
	return ids
}

func TestRemoteStrokeIdempotence(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	stroke := Stroke{
		Id:          "s1",
		Points:      []Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Color:       ColorBlack,
		StrokeWidth: 8,
		AuthorId:    uid,
	}

	session.addRemoteStroke(stroke)
	session.addRemoteStroke(stroke)

	state := session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, state.Strokes[0].Id, "s1")

	// re-delivery with changed payload replaces in place
	updated := stroke
	updated.Points = []Point{{X: 5, Y: 6}}
	session.addRemoteStroke(updated)

	state = session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, state.Strokes[0].Points, []Point{{X: 5, Y: 6}})
}

func TestUndoRedoRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	stroke := Stroke{
		Id:          "s1",
		Points:      []Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color:       Argb(0xff, 0xff, 0, 0),
		StrokeWidth: 12,
		AuthorId:    uid,
	}
	session.addRemoteStroke(stroke)

	session.Undo()
	state := session.State()
	assert.Equal(t, len(state.Strokes), 0)
	assert.Equal(t, len(state.UndoneStrokes), 1)

	session.Redo()
	state = session.State()
	assert.Equal(t, len(state.UndoneStrokes), 0)
	assert.Equal(t, len(state.Strokes), 1)
	// redo restores the exact stroke, all fields including id
	assert.Equal(t, state.Strokes[0], stroke)
}

func TestUndoUnderflow(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.addRemoteStroke(Stroke{Id: "s1", Points: []Point{{X: 1, Y: 1}}, AuthorId: uid})

	for i := 0; i < 10; i += 1 {
		session.Undo()
	}
	state := session.State()
	assert.Equal(t, len(state.Strokes), 0)
	assert.Equal(t, len(state.UndoneStrokes), 1)

	// redo underflow is also a no-op
	for i := 0; i < 10; i += 1 {
		session.Redo()
	}
	state = session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, len(state.UndoneStrokes), 0)
}

func TestUndoneStrokeNotResurrected(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	stroke := Stroke{Id: "s1", Points: []Point{{X: 1, Y: 1}}, AuthorId: uid}
	session.addRemoteStroke(stroke)
	session.Undo()

	// slow network echo of the undone stroke
	session.addRemoteStroke(stroke)

	state := session.State()
	assert.Equal(t, len(state.Strokes), 0)
	assert.Equal(t, len(state.UndoneStrokes), 1)
	assert.Equal(t, state.UndoneStrokes[0].Id, "s1")

	// redo makes it visible again
	session.Redo()
	state = session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, len(state.UndoneStrokes), 0)
}

type countingStrokeLog struct {
	*MemoryStore
	appendCount int64
}

func (self *countingStrokeLog) AppendStroke(ctx context.Context, pairingId string, stroke Stroke) error {
	atomic.AddInt64(&self.appendCount, 1)
	return self.MemoryStore.AppendStroke(ctx, pairingId, stroke)
}

func TestSubmitEmptyStroke(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	strokeLog := &countingStrokeLog{MemoryStore: store}

	uid, _ := store.SignInAnonymously(ctx)
	store.CreateProfile(ctx, uid)
	pairingId, _ := store.CreatePairing(ctx, uid)

	session := NewCanvasSession(ctx, uid, pairingId, store, store, strokeLog, store, DefaultCanvasSessionSettings())
	t.Cleanup(session.Close)

	session.SubmitStroke([]Point{})

	assert.Equal(t, atomic.LoadInt64(&strokeLog.appendCount), int64(0))
	state := session.State()
	assert.Equal(t, len(state.Strokes), 0)
	assert.Equal(t, state.Error, "")
}

func TestEchoCommitsStroke(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.SelectColor(Argb(0xff, 0, 0xff, 0))
	session.SubmitStroke([]Point{{X: 1, Y: 1}, {X: 2, Y: 2}})

	// the local copy appears only via the echo, with an assigned id
	state := awaitState(t, session, func(state *CanvasState) bool {
		return len(state.Strokes) == 1
	})
	assert.NotEqual(t, state.Strokes[0].Id, "")
	assert.Equal(t, state.Strokes[0].AuthorId, uid)
	assert.Equal(t, state.Strokes[0].Color, Argb(0xff, 0, 0xff, 0))
}

func TestUndoDuplicateRedeliveryRedo(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session, uid, pairingId := newTestSession(t, store, DefaultCanvasSessionSettings())

	// partner draws s1, local user draws s2
	err := store.AppendStroke(ctx, pairingId, Stroke{Points: []Point{{X: 0, Y: 0}}, AuthorId: "partner"})
	assert.Equal(t, err, nil)
	err = store.AppendStroke(ctx, pairingId, Stroke{Points: []Point{{X: 1, Y: 1}}, AuthorId: uid})
	assert.Equal(t, err, nil)

	awaitState(t, session, func(state *CanvasState) bool {
		return len(state.Strokes) == 2
	})

	session.Undo()
	state := session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, state.Strokes[0].AuthorId, "partner")
	assert.Equal(t, len(state.UndoneStrokes), 1)
	undoneId := state.UndoneStrokes[0].Id

	// duplicate delivery of the undone stroke does not change state
	assert.Equal(t, store.RedeliverStroke(pairingId, undoneId), true)
	time.Sleep(100 * time.Millisecond)
	state = session.State()
	assert.Equal(t, len(state.Strokes), 1)
	assert.Equal(t, len(state.UndoneStrokes), 1)

	session.Redo()
	state = session.State()
	assert.Equal(t, len(state.Strokes), 2)
	assert.Equal(t, len(state.UndoneStrokes), 0)
	assert.Equal(t, state.Strokes[1].Id, undoneId)
}

func TestUndoScopeSelf(t *testing.T) {
	store := NewMemoryStore()
	session, _, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	// only remote-authored strokes present
	session.addRemoteStroke(Stroke{Id: "s1", Points: []Point{{X: 0, Y: 0}}, AuthorId: "partner"})
	session.addRemoteStroke(Stroke{Id: "s2", Points: []Point{{X: 1, Y: 1}}, AuthorId: "partner"})

	session.Undo()
	state := session.State()
	assert.Equal(t, strokeIds(state.Strokes), []string{"s1", "s2"})
	assert.Equal(t, len(state.UndoneStrokes), 0)
}

func TestUndoScopeAny(t *testing.T) {
	store := NewMemoryStore()
	settings := DefaultCanvasSessionSettings()
	settings.UndoScope = UndoScopeAny
	session, _, _ := newTestSession(t, store, settings)

	session.addRemoteStroke(Stroke{Id: "s1", Points: []Point{{X: 0, Y: 0}}, AuthorId: "partner"})
	session.addRemoteStroke(Stroke{Id: "s2", Points: []Point{{X: 1, Y: 1}}, AuthorId: "partner"})

	session.Undo()
	state := session.State()
	assert.Equal(t, strokeIds(state.Strokes), []string{"s1"})
	assert.Equal(t, strokeIds(state.UndoneStrokes), []string{"s2"})
}

func TestEraserColorRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	session, _, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.SelectColor(Color(0xFFFF0000))
	session.ToggleEraser()
	state := session.State()
	assert.Equal(t, state.EraserActive, true)

	session.ToggleEraser()
	state = session.State()
	assert.Equal(t, state.EraserActive, false)
	assert.Equal(t, state.SelectedColor, Color(0xFFFF0000))
}

func TestSelectColorDisablesEraser(t *testing.T) {
	store := NewMemoryStore()
	session, _, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.ToggleEraser()
	session.SelectColor(ColorBlack)
	state := session.State()
	assert.Equal(t, state.EraserActive, false)
}

func TestEraserStrokeColor(t *testing.T) {
	store := NewMemoryStore()
	settings := DefaultCanvasSessionSettings()
	session, _, _ := newTestSession(t, store, settings)

	session.SelectColor(Color(0xFFFF0000))
	session.ToggleEraser()
	session.SubmitStroke([]Point{{X: 1, Y: 1}})

	state := awaitState(t, session, func(state *CanvasState) bool {
		return len(state.Strokes) == 1
	})
	assert.Equal(t, state.Strokes[0].Color, settings.EraserColor)
}

func TestStrokeWidthClamp(t *testing.T) {
	store := NewMemoryStore()
	settings := DefaultCanvasSessionSettings()
	session, _, _ := newTestSession(t, store, settings)

	session.SelectStrokeWidth(0)
	assert.Equal(t, session.State().SelectedStrokeWidth, settings.MinStrokeWidth)

	session.SelectStrokeWidth(10000)
	assert.Equal(t, session.State().SelectedStrokeWidth, settings.MaxStrokeWidth)

	session.SelectStrokeWidth(12)
	assert.Equal(t, session.State().SelectedStrokeWidth, float32(12))
}

func TestLoadingTransitions(t *testing.T) {
	store := NewMemoryStore()
	session, _, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	// empty log still completes loading once the backlog replay and the
	// first partner value have arrived
	state := awaitState(t, session, func(state *CanvasState) bool {
		return !state.IsLoading
	})
	assert.Equal(t, state.SessionState, SessionStateActive)
	assert.Equal(t, state.Error, "")
}

func TestLeavePairing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	var navigated int64
	removeCallback := session.AddNavigateHomeCallback(func() {
		atomic.AddInt64(&navigated, 1)
	})
	defer removeCallback()

	session.LeavePairing()

	assert.Equal(t, atomic.LoadInt64(&navigated), int64(1))
	awaitState(t, session, func(state *CanvasState) bool {
		return state.SessionState == SessionStateTornDown
	})

	sub, err := store.ObserveProfile(ctx, uid)
	assert.Equal(t, err, nil)
	defer sub.Close()
	profile := <-sub.Values()
	assert.Equal(t, profile.PairingId, "")
}

type countingPairingStore struct {
	*MemoryStore
	leaveCount int64
}

func (self *countingPairingStore) LeavePairing(ctx context.Context, uid string) error {
	atomic.AddInt64(&self.leaveCount, 1)
	return self.MemoryStore.LeavePairing(ctx, uid)
}

func TestLeavePairingOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	pairings := &countingPairingStore{MemoryStore: store}

	uid, _ := store.SignInAnonymously(ctx)
	store.CreateProfile(ctx, uid)
	pairingId, _ := store.CreatePairing(ctx, uid)

	session := NewCanvasSession(ctx, uid, pairingId, store, pairings, store, store, DefaultCanvasSessionSettings())
	t.Cleanup(session.Close)

	var navigated int64
	removeCallback := session.AddNavigateHomeCallback(func() {
		atomic.AddInt64(&navigated, 1)
	})
	defer removeCallback()

	// double tap fires the navigation transition once
	session.LeavePairing()
	session.LeavePairing()
	assert.Equal(t, atomic.LoadInt64(&navigated), int64(1))

	awaitState(t, session, func(state *CanvasState) bool {
		return state.SessionState == SessionStateTornDown
	})

	// after teardown the store is not re-invoked
	leaveCount := atomic.LoadInt64(&pairings.leaveCount)
	session.LeavePairing()
	assert.Equal(t, atomic.LoadInt64(&pairings.leaveCount), leaveCount)
	assert.Equal(t, atomic.LoadInt64(&navigated), int64(1))
}

func TestMoodUpdateEcho(t *testing.T) {
	store := NewMemoryStore()
	session, _, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.UpdateMood("🎨")

	// the authoritative value arrives via the profile subscription
	state := awaitState(t, session, func(state *CanvasState) bool {
		return state.CurrentUser != nil && state.CurrentUser.Mood == "🎨"
	})
	assert.Equal(t, state.Error, "")
}

func TestTextObjectSnapshotReplace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session, _, pairingId := newTestSession(t, store, DefaultCanvasSessionSettings())

	err := store.UpsertTextObject(ctx, pairingId, TextObject{Id: "t1", Text: "hi", X: 1, Y: 2, FontSize: 24})
	assert.Equal(t, err, nil)

	state := awaitState(t, session, func(state *CanvasState) bool {
		return len(state.TextObjects) == 1
	})
	assert.Equal(t, state.TextObjects["t1"].Text, "hi")

	// last write wins by id
	err = store.UpsertTextObject(ctx, pairingId, TextObject{Id: "t1", Text: "bye", X: 1, Y: 2, FontSize: 24})
	assert.Equal(t, err, nil)

	state = awaitState(t, session, func(state *CanvasState) bool {
		return state.TextObjects["t1"].Text == "bye"
	})
	assert.Equal(t, len(state.TextObjects), 1)
}

func TestStateSnapshotIsolation(t *testing.T) {
	store := NewMemoryStore()
	session, uid, _ := newTestSession(t, store, DefaultCanvasSessionSettings())

	session.addRemoteStroke(Stroke{Id: "s1", Points: []Point{{X: 1, Y: 1}}, AuthorId: uid})

	state := session.State()
	state.Strokes[0].Id = "mutated"
	state.Strokes = append(state.Strokes, Stroke{Id: "extra"})

	fresh := session.State()
	assert.Equal(t, len(fresh.Strokes), 1)
	assert.Equal(t, fresh.Strokes[0].Id, "s1")
}
