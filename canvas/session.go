package canvas

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// session state machine is:
// SessionStateLoading
//
//	-> SessionStateActive
//	  -> SessionStateTornDown (terminal)
//	-> SessionStateTornDown (terminal)
type SessionState string

const (
	SessionStateLoading  SessionState = "Loading"
	SessionStateActive   SessionState = "Active"
	SessionStateTornDown SessionState = "TornDown"
)

func (self SessionState) IsTerminal() bool {
	switch self {
	case SessionStateTornDown:
		return true
	default:
		return false
	}
}

// UndoScope selects which strokes `Undo` may remove.
type UndoScope string

const (
	// most recent stroke authored by the session user
	UndoScopeSelf UndoScope = "self"
	// most recent stroke regardless of author
	UndoScopeAny UndoScope = "any"
)

func DefaultCanvasSessionSettings() *CanvasSessionSettings {
	return &CanvasSessionSettings{
		UndoScope:          UndoScopeSelf,
		DefaultColor:       ColorBlack,
		DefaultStrokeWidth: 8,
		// drawn over the canvas background
		EraserColor:    ColorWhite,
		MinStrokeWidth: 0.5,
		MaxStrokeWidth: 100,
		UnknownMood:    "…",
	}
}

type CanvasSessionSettings struct {
	UndoScope          UndoScope
	DefaultColor       Color
	DefaultStrokeWidth float32
	EraserColor        Color
	MinStrokeWidth     float32
	MaxStrokeWidth     float32
	UnknownMood        string
}

// CanvasState is the single source of truth for one drawing session.
// It is a rebuilt projection of the remote log plus local-only undo
// bookkeeping. It is exclusively owned by a `CanvasSession` and exposed
// to observers as deep copies only.
type CanvasState struct {
	SessionState        SessionState
	IsLoading           bool
	CurrentUser         *UserProfile
	PartnerUser         *UserProfile
	Strokes             []Stroke
	UndoneStrokes       []Stroke
	TextObjects         map[string]TextObject
	SelectedColor       Color
	SelectedStrokeWidth float32
	EraserActive        bool
	PairingId           string
	Error               string
}

func (self *CanvasState) Copy() *CanvasState {
	state := *self
	state.Strokes = copyStrokes(self.Strokes)
	state.UndoneStrokes = copyStrokes(self.UndoneStrokes)
	state.TextObjects = maps.Clone(self.TextObjects)
	if self.CurrentUser != nil {
		state.CurrentUser = self.CurrentUser.Copy()
	}
	if self.PartnerUser != nil {
		state.PartnerUser = self.PartnerUser.Copy()
	}
	return &state
}

func copyStrokes(strokes []Stroke) []Stroke {
	copied := make([]Stroke, len(strokes))
	for i := range strokes {
		copied[i] = strokes[i].Copy()
	}
	return copied
}

// local user actions, dispatched through `ApplyEvent`

type CanvasEvent interface {
	isCanvasEvent()
}

type DrawEvent struct {
	Points []Point
}

type UndoEvent struct{}

type RedoEvent struct{}

type SelectColorEvent struct {
	Color Color
}

type SelectStrokeWidthEvent struct {
	StrokeWidth float32
}

type ToggleEraserEvent struct{}

type UpdateMoodEvent struct {
	Mood string
}

type UpsertTextEvent struct {
	TextObject TextObject
}

type LeavePairingEvent struct{}

func (DrawEvent) isCanvasEvent()              {}
func (UndoEvent) isCanvasEvent()              {}
func (RedoEvent) isCanvasEvent()              {}
func (SelectColorEvent) isCanvasEvent()       {}
func (SelectStrokeWidthEvent) isCanvasEvent() {}
func (ToggleEraserEvent) isCanvasEvent()      {}
func (UpdateMoodEvent) isCanvasEvent()        {}
func (UpsertTextEvent) isCanvasEvent()        {}
func (LeavePairingEvent) isCanvasEvent()      {}

type StateChangeFunction = func(state *CanvasState)

// one-shot transition to the pre-pairing screen after `LeavePairing`
type NavigateHomeFunction = func()

// CanvasSession reconciles the live remote stroke stream with locally
// issued strokes and locally issued undo/redo commands.
//
// Every fold, local or remote, is serialized under `stateLock` and
// replaces the snapshot atomically from the perspective of observers.
type CanvasSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	selfId    string
	pairingId string

	profiles ProfileStore
	pairings PairingStore
	strokes  StrokeLog
	// optional. May be nil.
	texts TextStore

	settings *CanvasSessionSettings

	stateLock      sync.Mutex
	state          CanvasState
	strokeLogReady bool
	partnerReady   bool

	stateChangeCallbacks *CallbackList[StateChangeFunction]
	navigateCallbacks    *CallbackList[NavigateHomeFunction]
	navigateOnce         sync.Once
}

func NewCanvasSessionWithDefaults(
	ctx context.Context,
	selfId string,
	pairingId string,
	profiles ProfileStore,
	pairings PairingStore,
	strokes StrokeLog,
	texts TextStore,
) *CanvasSession {
	return NewCanvasSession(
		ctx,
		selfId,
		pairingId,
		profiles,
		pairings,
		strokes,
		texts,
		DefaultCanvasSessionSettings(),
	)
}

func NewCanvasSession(
	ctx context.Context,
	selfId string,
	pairingId string,
	profiles ProfileStore,
	pairings PairingStore,
	strokes StrokeLog,
	texts TextStore,
	settings *CanvasSessionSettings,
) *CanvasSession {
	cancelCtx, cancel := context.WithCancel(ctx)
	session := &CanvasSession{
		ctx:       cancelCtx,
		cancel:    cancel,
		selfId:    selfId,
		pairingId: pairingId,
		profiles:  profiles,
		pairings:  pairings,
		strokes:   strokes,
		texts:     texts,
		settings:  settings,
		state: CanvasState{
			SessionState:        SessionStateLoading,
			IsLoading:           true,
			Strokes:             []Stroke{},
			UndoneStrokes:       []Stroke{},
			TextObjects:         map[string]TextObject{},
			SelectedColor:       settings.DefaultColor,
			SelectedStrokeWidth: settings.DefaultStrokeWidth,
			PairingId:           pairingId,
		},
		stateChangeCallbacks: NewCallbackList[StateChangeFunction](),
		navigateCallbacks:    NewCallbackList[NavigateHomeFunction](),
	}
	go session.run()
	return session
}

// opens the remote subscriptions and consumes them for the session
// lifetime. Setup failures fold into the error field rather than
// propagate, and count as a definitive first delivery for loading.
func (self *CanvasSession) run() {
	strokeSub, err := self.strokes.ObserveStrokes(self.ctx, self.pairingId)
	if err != nil {
		glog.Infof("[session]%s stroke subscription error = %s\n", self.pairingId, err)
		self.foldError(fmt.Sprintf("could not open stroke log: %s", err), func(state *CanvasState) {
			self.strokeLogReady = true
		})
	} else {
		go self.consumeStrokes(strokeSub)
	}

	profileSub, err := self.profiles.ObserveProfile(self.ctx, self.selfId)
	if err != nil {
		glog.Infof("[session]%s profile subscription error = %s\n", self.selfId, err)
		self.foldError(fmt.Sprintf("could not observe profile: %s", err), nil)
	} else {
		go self.consumeProfile(profileSub)
	}

	partnerMonitor := NewPartnerMonitor(
		self.ctx,
		self.selfId,
		self.pairingId,
		self.profiles,
		self.settings.UnknownMood,
	)
	go self.consumePartner(partnerMonitor)

	if self.texts != nil {
		textSub, err := self.texts.ObserveTextObjects(self.ctx, self.pairingId)
		if err != nil {
			glog.Infof("[session]%s text subscription error = %s\n", self.pairingId, err)
			self.foldError(fmt.Sprintf("could not observe text objects: %s", err), nil)
		} else {
			go self.consumeTextObjects(textSub)
		}
	}

	<-self.ctx.Done()
	self.fold(func(state *CanvasState) {
		state.SessionState = SessionStateTornDown
		state.IsLoading = false
	})
}

func (self *CanvasSession) consumeStrokes(sub *Subscription[Stroke]) {
	defer sub.Close()
	ready := sub.Ready()
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-sub.Done():
			// drain strokes buffered before the close so a final
			// delivery is not lost to the select race
			for {
				select {
				case stroke := <-sub.Values():
					self.addRemoteStroke(stroke)
					continue
				default:
				}
				break
			}
			// the stream definitively failed or closed.
			// count it as delivered so loading can complete.
			self.fold(func(state *CanvasState) {
				self.strokeLogReady = true
			})
			return
		case <-ready:
			ready = nil
			self.fold(func(state *CanvasState) {
				self.strokeLogReady = true
			})
		case stroke := <-sub.Values():
			self.addRemoteStroke(stroke)
		}
	}
}

func (self *CanvasSession) consumeProfile(sub *Subscription[*UserProfile]) {
	defer sub.Close()
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-sub.Done():
			return
		case profile := <-sub.Values():
			self.fold(func(state *CanvasState) {
				state.CurrentUser = profile
			})
		}
	}
}

func (self *CanvasSession) consumePartner(monitor *PartnerMonitor) {
	defer monitor.Close()
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-monitor.Done():
			// drain values buffered before the close so the sentinel
			// emission is not lost to the select race
			for {
				select {
				case partner := <-monitor.Values():
					self.fold(func(state *CanvasState) {
						self.partnerReady = true
						state.PartnerUser = partner
					})
					continue
				default:
				}
				break
			}
			// the partner stream definitively failed.
			// count it as delivered so loading can complete.
			if self.ctx.Err() == nil {
				self.foldError("partner updates unavailable", func(state *CanvasState) {
					self.partnerReady = true
				})
			} else {
				self.fold(func(state *CanvasState) {
					self.partnerReady = true
				})
			}
			return
		case partner := <-monitor.Values():
			self.fold(func(state *CanvasState) {
				self.partnerReady = true
				state.PartnerUser = partner
			})
		}
	}
}

func (self *CanvasSession) consumeTextObjects(sub *Subscription[[]TextObject]) {
	defer sub.Close()
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-sub.Done():
			return
		case textObjects := <-sub.Values():
			// full snapshot replace, keyed by id
			self.fold(func(state *CanvasState) {
				nextTextObjects := map[string]TextObject{}
				for _, textObject := range textObjects {
					nextTextObjects[textObject.Id] = textObject
				}
				state.TextObjects = nextTextObjects
			})
		}
	}
}

// the merge function, invoked once per event from the remote log.
// Remote echoes of a locally undone stroke must not resurrect it.
func (self *CanvasSession) addRemoteStroke(stroke Stroke) {
	self.fold(func(state *CanvasState) {
		self.strokeLogReady = true

		undoneIndex := slices.IndexFunc(state.UndoneStrokes, func(s Stroke) bool {
			return s.Id == stroke.Id
		})
		if 0 <= undoneIndex {
			glog.V(2).Infof("[session]%s suppress %s\n", self.pairingId, stroke.Id)
			return
		}

		strokeIndex := slices.IndexFunc(state.Strokes, func(s Stroke) bool {
			return s.Id == stroke.Id
		})
		if 0 <= strokeIndex {
			// duplicate or re-delivery. Replace in place.
			glog.V(2).Infof("[session]%s replace %s\n", self.pairingId, stroke.Id)
			state.Strokes[strokeIndex] = stroke
			return
		}

		// ordering is stream-arrival order
		glog.V(2).Infof("[session]%s append %s\n", self.pairingId, stroke.Id)
		state.Strokes = append(state.Strokes, stroke)
	})
}

// fold applies one serialized mutation to the state and fans the new
// snapshot out to observers. This is the only mutation entry point.
func (self *CanvasSession) fold(mutate func(state *CanvasState)) {
	var snapshot *CanvasState
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.state.SessionState.IsTerminal() {
			return
		}
		if mutate != nil {
			mutate(&self.state)
		}
		if self.state.SessionState == SessionStateLoading && self.strokeLogReady && self.partnerReady {
			self.state.SessionState = SessionStateActive
			self.state.IsLoading = false
		}
		snapshot = self.state.Copy()
	}()

	if snapshot != nil {
		for _, callback := range self.stateChangeCallbacks.Get() {
			callback(snapshot)
		}
	}
}

func (self *CanvasSession) foldError(message string, also func(state *CanvasState)) {
	self.fold(func(state *CanvasState) {
		state.Error = message
		if also != nil {
			also(state)
		}
	})
}

func (self *CanvasSession) AddStateChangeCallback(stateChangeCallback StateChangeFunction) func() {
	callbackId := self.stateChangeCallbacks.Add(stateChangeCallback)
	return func() {
		self.stateChangeCallbacks.Remove(callbackId)
	}
}

func (self *CanvasSession) AddNavigateHomeCallback(navigateCallback NavigateHomeFunction) func() {
	callbackId := self.navigateCallbacks.Add(navigateCallback)
	return func() {
		self.navigateCallbacks.Remove(callbackId)
	}
}

// State returns a deep copy of the current snapshot.
func (self *CanvasSession) State() *CanvasState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state.Copy()
}

// ApplyEvent dispatches one local user action.
// Color, width, eraser, undo and redo apply synchronously in memory.
// Draw, mood, text and leave suspend on the corresponding external write.
func (self *CanvasSession) ApplyEvent(event CanvasEvent) {
	switch v := event.(type) {
	case DrawEvent:
		self.submitStroke(v.Points)
	case UndoEvent:
		self.undo()
	case RedoEvent:
		self.redo()
	case SelectColorEvent:
		self.selectColor(v.Color)
	case SelectStrokeWidthEvent:
		self.selectStrokeWidth(v.StrokeWidth)
	case ToggleEraserEvent:
		self.toggleEraser()
	case UpdateMoodEvent:
		self.updateMood(v.Mood)
	case UpsertTextEvent:
		self.upsertText(v.TextObject)
	case LeavePairingEvent:
		self.leavePairing()
	default:
		glog.Errorf("[session]%s unknown event %T\n", self.pairingId, event)
	}
}

func (self *CanvasSession) SubmitStroke(points []Point) {
	self.ApplyEvent(DrawEvent{Points: points})
}

func (self *CanvasSession) Undo() {
	self.ApplyEvent(UndoEvent{})
}

func (self *CanvasSession) Redo() {
	self.ApplyEvent(RedoEvent{})
}

func (self *CanvasSession) SelectColor(color Color) {
	self.ApplyEvent(SelectColorEvent{Color: color})
}

func (self *CanvasSession) SelectStrokeWidth(strokeWidth float32) {
	self.ApplyEvent(SelectStrokeWidthEvent{StrokeWidth: strokeWidth})
}

func (self *CanvasSession) ToggleEraser() {
	self.ApplyEvent(ToggleEraserEvent{})
}

func (self *CanvasSession) UpdateMood(mood string) {
	self.ApplyEvent(UpdateMoodEvent{Mood: mood})
}

func (self *CanvasSession) UpsertText(textObject TextObject) {
	self.ApplyEvent(UpsertTextEvent{TextObject: textObject})
}

func (self *CanvasSession) LeavePairing() {
	self.ApplyEvent(LeavePairingEvent{})
}

func (self *CanvasSession) ClearError() {
	self.fold(func(state *CanvasState) {
		state.Error = ""
	})
}

// submitStroke forwards a stroke candidate to the log for append.
// It does not mutate the visible strokes. The local copy is added only
// when the log echoes it back with an assigned id, which keeps a single
// code path for insertion.
func (self *CanvasSession) submitStroke(points []Point) {
	if len(points) == 0 {
		return
	}

	var stroke Stroke
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		color := self.state.SelectedColor
		if self.state.EraserActive {
			color = self.settings.EraserColor
		}
		stroke = Stroke{
			Points:      slices.Clone(points),
			Color:       color,
			StrokeWidth: self.state.SelectedStrokeWidth,
			AuthorId:    self.selfId,
		}
	}()

	if err := self.strokes.AppendStroke(self.ctx, self.pairingId, stroke); err != nil {
		glog.Infof("[session]%s append error = %s\n", self.pairingId, err)
		self.foldError(fmt.Sprintf("could not send stroke: %s", err), nil)
	}
}

func (self *CanvasSession) undo() {
	self.fold(func(state *CanvasState) {
		undoIndex := -1
		for i := len(state.Strokes) - 1; 0 <= i; i -= 1 {
			if self.settings.UndoScope == UndoScopeAny || state.Strokes[i].AuthorId == self.selfId {
				undoIndex = i
				break
			}
		}
		if undoIndex < 0 {
			// no eligible stroke
			return
		}
		stroke := state.Strokes[undoIndex]
		state.Strokes = slices.Delete(state.Strokes, undoIndex, undoIndex+1)
		state.UndoneStrokes = append(state.UndoneStrokes, stroke)
	})
}

func (self *CanvasSession) redo() {
	self.fold(func(state *CanvasState) {
		if len(state.UndoneStrokes) == 0 {
			return
		}
		last := len(state.UndoneStrokes) - 1
		stroke := state.UndoneStrokes[last]
		state.UndoneStrokes = slices.Delete(state.UndoneStrokes, last, last+1)
		state.Strokes = append(state.Strokes, stroke)
	})
}

func (self *CanvasSession) selectColor(color Color) {
	self.fold(func(state *CanvasState) {
		state.SelectedColor = color
		state.EraserActive = false
	})
}

func (self *CanvasSession) selectStrokeWidth(strokeWidth float32) {
	self.fold(func(state *CanvasState) {
		if strokeWidth < self.settings.MinStrokeWidth {
			strokeWidth = self.settings.MinStrokeWidth
		}
		if self.settings.MaxStrokeWidth < strokeWidth {
			strokeWidth = self.settings.MaxStrokeWidth
		}
		state.SelectedStrokeWidth = strokeWidth
	})
}

// toggling the eraser does not clear the last selected color,
// so it is remembered for restoration
func (self *CanvasSession) toggleEraser() {
	self.fold(func(state *CanvasState) {
		state.EraserActive = !state.EraserActive
	})
}

// the authoritative mood value arrives back via the profile subscription
func (self *CanvasSession) updateMood(mood string) {
	if err := self.profiles.UpdateMood(self.ctx, self.selfId, mood); err != nil {
		glog.Infof("[session]%s mood error = %s\n", self.selfId, err)
		self.foldError(fmt.Sprintf("could not update mood: %s", err), nil)
	}
}

func (self *CanvasSession) upsertText(textObject TextObject) {
	if self.texts == nil {
		return
	}
	if err := self.texts.UpsertTextObject(self.ctx, self.pairingId, textObject); err != nil {
		glog.Infof("[session]%s text error = %s\n", self.pairingId, err)
		self.foldError(fmt.Sprintf("could not update text: %s", err), nil)
	}
}

func (self *CanvasSession) leavePairing() {
	self.stateLock.Lock()
	terminal := self.state.SessionState.IsTerminal()
	self.stateLock.Unlock()
	if terminal {
		return
	}

	if err := self.pairings.LeavePairing(self.ctx, self.selfId); err != nil {
		glog.Infof("[session]%s leave error = %s\n", self.selfId, err)
		self.foldError(fmt.Sprintf("could not leave pairing: %s", err), nil)
		return
	}

	// the navigation transition is one-shot even if leave is re-entered
	// before teardown completes
	self.navigateOnce.Do(func() {
		for _, callback := range self.navigateCallbacks.Get() {
			callback()
		}
	})
	self.Close()
}

// Close tears down the session and releases the subscriptions.
// Idempotent.
func (self *CanvasSession) Close() {
	self.cancel()
}
