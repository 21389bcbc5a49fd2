package canvas

import (
	"context"

	"github.com/golang/glog"
)

// PartnerMonitor subscribes to the paired partner's profile record and
// re-emits it for the session to fold into state. When no partner is
// resolvable (single-member pairing, absent record, or a failed stream)
// it emits the unknown-mood sentinel instead of nil, so the rendering
// layer never needs to special-case absence.
type PartnerMonitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	selfId    string
	pairingId string

	profiles    ProfileStore
	unknownMood string

	out *Subscription[*UserProfile]
}

func NewPartnerMonitor(
	ctx context.Context,
	selfId string,
	pairingId string,
	profiles ProfileStore,
	unknownMood string,
) *PartnerMonitor {
	cancelCtx, cancel := context.WithCancel(ctx)
	monitor := &PartnerMonitor{
		ctx:         cancelCtx,
		cancel:      cancel,
		selfId:      selfId,
		pairingId:   pairingId,
		profiles:    profiles,
		unknownMood: unknownMood,
		out:         NewSubscription[*UserProfile](cancelCtx),
	}
	go monitor.run()
	return monitor
}

func (self *PartnerMonitor) run() {
	defer self.cancel()

	sub, err := self.profiles.ObservePartner(self.ctx, self.selfId, self.pairingId)
	if err != nil {
		glog.Infof("[partner]%s subscription error = %s\n", self.pairingId, err)
		self.out.Send(self.unknown())
		return
	}
	defer sub.Close()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-sub.Done():
			return
		case partner := <-sub.Values():
			self.out.Send(self.resolve(partner))
		}
	}
}

func (self *PartnerMonitor) resolve(partner *UserProfile) *UserProfile {
	if partner == nil {
		return self.unknown()
	}
	if partner.Mood == "" {
		resolved := partner.Copy()
		resolved.Mood = self.unknownMood
		return resolved
	}
	return partner
}

func (self *PartnerMonitor) unknown() *UserProfile {
	return &UserProfile{
		Mood:      self.unknownMood,
		PairingId: self.pairingId,
	}
}

func (self *PartnerMonitor) Values() <-chan *UserProfile {
	return self.out.Values()
}

func (self *PartnerMonitor) Done() <-chan struct{} {
	return self.out.Done()
}

func (self *PartnerMonitor) Close() {
	self.cancel()
	self.out.Close()
}
