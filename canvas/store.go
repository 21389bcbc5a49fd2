package canvas

import (
	"context"
	"errors"
	"sync"
)

// collaborators for the managed backend
// the core only consumes these interfaces. `OurCanvasApi` talks to the
// hosted backend and `MemoryStore` is an in-process loopback for tests
// and local mode.

// returned by `JoinPairing` when the pairing id does not exist
var ErrPairingNotFound = errors.New("pairing not found")

type AuthService interface {
	// idempotent if already signed in. Returns the same uid.
	SignInAnonymously(ctx context.Context) (string, error)
	SignInWithIdentityToken(ctx context.Context, token string) (string, error)
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, uid string) error
	// emits nil while the profile record is absent
	ObserveProfile(ctx context.Context, uid string) (*Subscription[*UserProfile], error)
	// emits the paired partner's profile. When no partner is resolvable
	// the emission carries an empty mood, which the partner monitor
	// replaces with the unknown-mood sentinel.
	ObservePartner(ctx context.Context, uid string, pairingId string) (*Subscription[*UserProfile], error)
	UpdateMood(ctx context.Context, uid string, mood string) error
	SetPairing(ctx context.Context, uid string, pairingId string) error
}

type PairingStore interface {
	CreatePairing(ctx context.Context, uid string) (string, error)
	JoinPairing(ctx context.Context, uid string, pairingId string) error
	LeavePairing(ctx context.Context, uid string) error
}

type StrokeLog interface {
	// each emission already carries an assigned id.
	// redelivery and duplicates are possible and must be tolerated by the consumer.
	ObserveStrokes(ctx context.Context, pairingId string) (*Subscription[Stroke], error)
	// the stroke is sent without an id. The accepted stroke arrives back
	// through `ObserveStrokes` with its assigned id.
	AppendStroke(ctx context.Context, pairingId string, stroke Stroke) error
}

type TextStore interface {
	// full snapshot replace semantics, keyed by id
	ObserveTextObjects(ctx context.Context, pairingId string) (*Subscription[[]TextObject], error)
	UpsertTextObject(ctx context.Context, pairingId string, textObject TextObject) error
}

const SubscriptionBufferSize = 32

// Subscription is a cancellable channel-backed stream.
// The producer delivers with `Send`, which drops once the subscription
// is closed. `Close` is idempotent and safe after the underlying
// transport is already closed.
type Subscription[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	values chan T

	readyOnce sync.Once
	ready     chan struct{}

	closeOnce sync.Once
	release   func()
}

func NewSubscription[T any](ctx context.Context) *Subscription[T] {
	return NewSubscriptionWithCapacity[T](ctx, SubscriptionBufferSize)
}

// NewSubscriptionWithCapacity is used where the producer must be able to
// buffer a known initial snapshot without blocking, such as a backlog
// replay done under the producer's lock.
func NewSubscriptionWithCapacity[T any](ctx context.Context, capacity int) *Subscription[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Subscription[T]{
		ctx:    cancelCtx,
		cancel: cancel,
		values: make(chan T, capacity),
		ready:  make(chan struct{}),
	}
}

// SetRelease attaches a function run exactly once on close,
// used to detach the subscription from its producer.
func (self *Subscription[T]) SetRelease(release func()) {
	self.release = release
}

func (self *Subscription[T]) Values() <-chan T {
	return self.values
}

// MarkReady signals that the initial snapshot has been delivered.
// For an append-only log this is the point where the backlog has been
// replayed, even when the backlog is empty.
func (self *Subscription[T]) MarkReady() {
	self.readyOnce.Do(func() {
		close(self.ready)
	})
}

// Ready is closed once the initial snapshot has been delivered.
func (self *Subscription[T]) Ready() <-chan struct{} {
	return self.ready
}

func (self *Subscription[T]) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *Subscription[T]) IsDone() bool {
	select {
	case <-self.ctx.Done():
		return true
	default:
		return false
	}
}

// Send delivers a value to the consumer.
// Returns false if the subscription was closed before delivery.
func (self *Subscription[T]) Send(value T) bool {
	select {
	case <-self.ctx.Done():
		return false
	case self.values <- value:
		return true
	}
}

func (self *Subscription[T]) Close() {
	self.cancel()
	self.closeOnce.Do(func() {
		if self.release != nil {
			self.release()
		}
	})
}
