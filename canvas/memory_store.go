package canvas

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

const DefaultMood = "😊"

// MemoryStore is an in-process loopback backend implementing all of the
// collaborator interfaces. It preserves the echo semantics of the real
// backend: an appended stroke is assigned an id and arrives back through
// the stroke subscription.
//
// Fan-out happens under the state lock with blocking sends, which is
// acceptable for the loopback where consumers never call back into the
// store while folding.
type MemoryStore struct {
	stateLock sync.Mutex

	uid            string
	profiles       map[string]*UserProfile
	pairingMembers map[string][]string
	strokeLogs     map[string][]Stroke
	textObjects    map[string]map[string]TextObject

	strokeSubs  map[string][]*Subscription[Stroke]
	profileSubs map[string][]*Subscription[*UserProfile]
	partnerSubs map[string][]*memoryPartnerSub
	textSubs    map[string][]*Subscription[[]TextObject]
}

type memoryPartnerSub struct {
	uid       string
	pairingId string
	sub       *Subscription[*UserProfile]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:       map[string]*UserProfile{},
		pairingMembers: map[string][]string{},
		strokeLogs:     map[string][]Stroke{},
		textObjects:    map[string]map[string]TextObject{},
		strokeSubs:     map[string][]*Subscription[Stroke]{},
		profileSubs:    map[string][]*Subscription[*UserProfile]{},
		partnerSubs:    map[string][]*memoryPartnerSub{},
		textSubs:       map[string][]*Subscription[[]TextObject]{},
	}
}

// AuthService

func (self *MemoryStore) SignInAnonymously(ctx context.Context) (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// re-invoking sign-in for an already signed-in identity returns the
	// same uid
	if self.uid == "" {
		self.uid = NewId()
	}
	return self.uid, nil
}

func (self *MemoryStore) SignInWithIdentityToken(ctx context.Context, token string) (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// loopback has no identity provider. The token is taken as the uid.
	if token == "" {
		return "", fmt.Errorf("empty identity token")
	}
	self.uid = token
	return self.uid, nil
}

// ProfileStore

func (self *MemoryStore) CreateProfile(ctx context.Context, uid string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.profiles[uid]; !ok {
		self.profiles[uid] = &UserProfile{
			Uid:  uid,
			Mood: DefaultMood,
		}
	}
	self.notifyProfile(uid)
	return nil
}

func (self *MemoryStore) ObserveProfile(ctx context.Context, uid string) (*Subscription[*UserProfile], error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sub := NewSubscription[*UserProfile](ctx)
	self.profileSubs[uid] = append(self.profileSubs[uid], sub)
	sub.Send(self.profileCopy(uid))
	sub.MarkReady()
	return sub, nil
}

func (self *MemoryStore) ObservePartner(ctx context.Context, uid string, pairingId string) (*Subscription[*UserProfile], error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sub := NewSubscription[*UserProfile](ctx)
	self.partnerSubs[pairingId] = append(self.partnerSubs[pairingId], &memoryPartnerSub{
		uid:       uid,
		pairingId: pairingId,
		sub:       sub,
	})
	sub.Send(self.partnerCopy(uid, pairingId))
	sub.MarkReady()
	return sub, nil
}

func (self *MemoryStore) UpdateMood(ctx context.Context, uid string, mood string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	profile, ok := self.profiles[uid]
	if !ok {
		return fmt.Errorf("no profile for %s", uid)
	}
	profile.Mood = mood
	self.notifyProfile(uid)
	if profile.PairingId != "" {
		self.notifyPartners(profile.PairingId)
	}
	return nil
}

func (self *MemoryStore) SetPairing(ctx context.Context, uid string, pairingId string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	profile, ok := self.profiles[uid]
	if !ok {
		return fmt.Errorf("no profile for %s", uid)
	}
	previousPairingId := profile.PairingId
	profile.PairingId = pairingId
	self.notifyProfile(uid)
	if previousPairingId != "" {
		self.notifyPartners(previousPairingId)
	}
	if pairingId != "" {
		self.notifyPartners(pairingId)
	}
	return nil
}

// PairingStore

func (self *MemoryStore) CreatePairing(ctx context.Context, uid string) (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	pairingId := NewId()
	self.pairingMembers[pairingId] = []string{uid}
	if profile, ok := self.profiles[uid]; ok {
		profile.PairingId = pairingId
	}
	self.notifyProfile(uid)
	self.notifyPartners(pairingId)
	return pairingId, nil
}

func (self *MemoryStore) JoinPairing(ctx context.Context, uid string, pairingId string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	members, ok := self.pairingMembers[pairingId]
	if !ok {
		return ErrPairingNotFound
	}
	if !slices.Contains(members, uid) {
		self.pairingMembers[pairingId] = append(members, uid)
	}
	if profile, ok := self.profiles[uid]; ok {
		profile.PairingId = pairingId
	}
	self.notifyProfile(uid)
	self.notifyPartners(pairingId)
	return nil
}

func (self *MemoryStore) LeavePairing(ctx context.Context, uid string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	profile, ok := self.profiles[uid]
	if !ok {
		return fmt.Errorf("no profile for %s", uid)
	}
	pairingId := profile.PairingId
	if pairingId == "" {
		return nil
	}
	members := self.pairingMembers[pairingId]
	i := slices.Index(members, uid)
	if 0 <= i {
		self.pairingMembers[pairingId] = slices.Delete(slices.Clone(members), i, i+1)
	}
	profile.PairingId = ""
	self.notifyProfile(uid)
	self.notifyPartners(pairingId)
	return nil
}

// StrokeLog

func (self *MemoryStore) ObserveStrokes(ctx context.Context, pairingId string) (*Subscription[Stroke], error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// the buffer holds the whole backlog so that the replay below never
	// blocks while `stateLock` is held
	backlog := self.strokeLogs[pairingId]
	capacity := SubscriptionBufferSize
	if capacity < len(backlog) {
		capacity = len(backlog)
	}
	sub := NewSubscriptionWithCapacity[Stroke](ctx, capacity)
	self.strokeSubs[pairingId] = append(self.strokeSubs[pairingId], sub)
	for _, stroke := range backlog {
		sub.Send(stroke.Copy())
	}
	sub.MarkReady()
	return sub, nil
}

func (self *MemoryStore) AppendStroke(ctx context.Context, pairingId string, stroke Stroke) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(stroke.Points) == 0 {
		return fmt.Errorf("empty stroke")
	}
	accepted := stroke.Copy()
	accepted.Id = NewId()
	self.strokeLogs[pairingId] = append(self.strokeLogs[pairingId], accepted)
	for _, sub := range self.strokeSubs[pairingId] {
		sub.Send(accepted.Copy())
	}
	return nil
}

// RedeliverStroke re-sends an already accepted stroke to all stroke
// subscriptions, simulating a duplicate delivery or slow network echo.
func (self *MemoryStore) RedeliverStroke(pairingId string, strokeId string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i := slices.IndexFunc(self.strokeLogs[pairingId], func(stroke Stroke) bool {
		return stroke.Id == strokeId
	})
	if i < 0 {
		return false
	}
	stroke := self.strokeLogs[pairingId][i]
	for _, sub := range self.strokeSubs[pairingId] {
		sub.Send(stroke.Copy())
	}
	return true
}

// TextStore

func (self *MemoryStore) ObserveTextObjects(ctx context.Context, pairingId string) (*Subscription[[]TextObject], error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sub := NewSubscription[[]TextObject](ctx)
	self.textSubs[pairingId] = append(self.textSubs[pairingId], sub)
	sub.Send(self.textSnapshot(pairingId))
	sub.MarkReady()
	return sub, nil
}

func (self *MemoryStore) UpsertTextObject(ctx context.Context, pairingId string, textObject TextObject) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if textObject.Id == "" {
		return fmt.Errorf("missing text object id")
	}
	textObjects, ok := self.textObjects[pairingId]
	if !ok {
		textObjects = map[string]TextObject{}
		self.textObjects[pairingId] = textObjects
	}
	// last write wins by id
	textObjects[textObject.Id] = textObject
	snapshot := self.textSnapshot(pairingId)
	for _, sub := range self.textSubs[pairingId] {
		sub.Send(snapshot)
	}
	return nil
}

// must be called with `stateLock`
func (self *MemoryStore) textSnapshot(pairingId string) []TextObject {
	textObjects := []TextObject{}
	for _, textObject := range self.textObjects[pairingId] {
		textObjects = append(textObjects, textObject)
	}
	slices.SortFunc(textObjects, func(a TextObject, b TextObject) int {
		if a.Id < b.Id {
			return -1
		} else if b.Id < a.Id {
			return 1
		}
		return 0
	})
	return textObjects
}

// must be called with `stateLock`
func (self *MemoryStore) profileCopy(uid string) *UserProfile {
	if profile, ok := self.profiles[uid]; ok {
		return profile.Copy()
	}
	return nil
}

// must be called with `stateLock`
func (self *MemoryStore) partnerCopy(uid string, pairingId string) *UserProfile {
	for _, memberId := range self.pairingMembers[pairingId] {
		if memberId != uid {
			return self.profileCopy(memberId)
		}
	}
	return nil
}

// must be called with `stateLock`
func (self *MemoryStore) notifyProfile(uid string) {
	for _, sub := range self.profileSubs[uid] {
		sub.Send(self.profileCopy(uid))
	}
}

// must be called with `stateLock`
func (self *MemoryStore) notifyPartners(pairingId string) {
	for _, partnerSub := range self.partnerSubs[pairingId] {
		partnerSub.sub.Send(self.partnerCopy(partnerSub.uid, pairingId))
	}
}
