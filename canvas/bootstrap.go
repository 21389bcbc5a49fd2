package canvas

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// next screen after bootstrap
type Route string

const (
	// pre-pairing screen, create or join a pairing
	RoutePairing Route = "pairing"
	// active shared canvas
	RouteCanvas Route = "canvas"
)

func DefaultSessionBootstrapSettings() *SessionBootstrapSettings {
	return &SessionBootstrapSettings{
		AuthTimeout:    10 * time.Second,
		ProfileTimeout: 10 * time.Second,
	}
}

type SessionBootstrapSettings struct {
	// bounded wait on identity resolution. On expiry the bootstrap
	// falls back to the pre-pairing route rather than hang.
	AuthTimeout    time.Duration
	ProfileTimeout time.Duration
}

// SessionBootstrap resolves the current identity and decides the next
// route purely from whether the resolved profile carries a pairing id.
type SessionBootstrap struct {
	auth     AuthService
	profiles ProfileStore

	settings *SessionBootstrapSettings
}

func NewSessionBootstrapWithDefaults(auth AuthService, profiles ProfileStore) *SessionBootstrap {
	return NewSessionBootstrap(auth, profiles, DefaultSessionBootstrapSettings())
}

func NewSessionBootstrap(auth AuthService, profiles ProfileStore, settings *SessionBootstrapSettings) *SessionBootstrap {
	return &SessionBootstrap{
		auth:     auth,
		profiles: profiles,
		settings: settings,
	}
}

// Resolve signs in, creates the profile record on first launch, and
// returns the resolved profile with the route decision. Auth timeout or
// failure is a recoverable fallback to the pre-pairing route, not an
// error.
func (self *SessionBootstrap) Resolve(ctx context.Context) (*UserProfile, Route) {
	authCtx, authCancel := context.WithTimeout(ctx, self.settings.AuthTimeout)
	defer authCancel()

	uid, err := self.auth.SignInAnonymously(authCtx)
	if err != nil {
		glog.Infof("[bootstrap]sign in error = %s\n", err)
		return nil, RoutePairing
	}

	profile, err := self.firstProfile(ctx, uid)
	if err != nil {
		glog.Infof("[bootstrap]%s profile error = %s\n", uid, err)
		return &UserProfile{Uid: uid}, RoutePairing
	}

	if profile == nil {
		// first launch. Absent profile is normal control flow.
		if err := self.profiles.CreateProfile(ctx, uid); err != nil {
			glog.Infof("[bootstrap]%s create profile error = %s\n", uid, err)
			return &UserProfile{Uid: uid}, RoutePairing
		}
		profile = &UserProfile{Uid: uid}
	}

	if profile.Paired() {
		return profile, RouteCanvas
	}
	return profile, RoutePairing
}

func (self *SessionBootstrap) firstProfile(ctx context.Context, uid string) (*UserProfile, error) {
	profileCtx, profileCancel := context.WithTimeout(ctx, self.settings.ProfileTimeout)
	defer profileCancel()

	sub, err := self.profiles.ObserveProfile(profileCtx, uid)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case <-profileCtx.Done():
		return nil, profileCtx.Err()
	case <-sub.Done():
		return nil, context.Canceled
	case profile := <-sub.Values():
		return profile, nil
	}
}
