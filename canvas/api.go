package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type httpStatusError struct {
	statusCode int
	message    string
}

func (self *httpStatusError) Error() string {
	return fmt.Sprintf("%d: %s", self.statusCode, self.message)
}

// OurCanvasApi talks to the managed backend.
// Writes go over HTTP JSON. Subscriptions go over websocket, see
// `transport.go`. Implements AuthService, ProfileStore, PairingStore,
// StrokeLog and TextStore.
type OurCanvasApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl     string
	connectUrl string

	byJwt string
	uid   string

	settings *SubscriptionTransportSettings
}

func NewOurCanvasApi(apiUrl string, connectUrl string) *OurCanvasApi {
	return NewOurCanvasApiWithContext(context.Background(), apiUrl, connectUrl)
}

func NewOurCanvasApiWithContext(ctx context.Context, apiUrl string, connectUrl string) *OurCanvasApi {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &OurCanvasApi{
		ctx:        cancelCtx,
		cancel:     cancel,
		apiUrl:     apiUrl,
		connectUrl: connectUrl,
		settings:   DefaultSubscriptionTransportSettings(),
	}
}

// SetByJwt attaches an existing identity token, skipping sign-in.
func (self *OurCanvasApi) SetByJwt(byJwt string) error {
	uid, err := UidFromByJwt(byJwt)
	if err != nil {
		return err
	}
	self.byJwt = byJwt
	self.uid = uid
	return nil
}

func (self *OurCanvasApi) ByJwt() string {
	return self.byJwt
}

func (self *OurCanvasApi) Close() {
	self.cancel()
}

// the backend signs the token. The client only needs the uid claim.
func UidFromByJwt(byJwt string) (string, error) {
	claims := gojwt.MapClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(byJwt, claims); err != nil {
		return "", err
	}
	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", errors.New("token missing uid claim")
	}
	return uid, nil
}

// AuthService

type authSignInResult struct {
	ByJwt string `json:"by_jwt"`
}

type authIdentityArgs struct {
	IdentityToken string `json:"identity_token"`
}

func (self *OurCanvasApi) SignInAnonymously(ctx context.Context) (string, error) {
	// idempotent if already signed in
	if self.byJwt != "" {
		return self.uid, nil
	}

	result, err := post(ctx, fmt.Sprintf("%s/auth/anonymous", self.apiUrl), nil, "", &authSignInResult{})
	if err != nil {
		return "", err
	}
	if err := self.SetByJwt(result.ByJwt); err != nil {
		return "", err
	}
	return self.uid, nil
}

func (self *OurCanvasApi) SignInWithIdentityToken(ctx context.Context, token string) (string, error) {
	args := &authIdentityArgs{
		IdentityToken: token,
	}
	result, err := post(ctx, fmt.Sprintf("%s/auth/identity", self.apiUrl), args, "", &authSignInResult{})
	if err != nil {
		return "", err
	}
	if err := self.SetByJwt(result.ByJwt); err != nil {
		return "", err
	}
	return self.uid, nil
}

// ProfileStore

type createProfileArgs struct {
	Uid string `json:"uid"`
}

type updateMoodArgs struct {
	Mood string `json:"mood"`
}

type setPairingArgs struct {
	PairingId string `json:"pairing_id"`
}

func (self *OurCanvasApi) CreateProfile(ctx context.Context, uid string) error {
	args := &createProfileArgs{
		Uid: uid,
	}
	_, err := post(ctx, fmt.Sprintf("%s/users", self.apiUrl), args, self.byJwt, &struct{}{})
	return err
}

func (self *OurCanvasApi) ObserveProfile(ctx context.Context, uid string) (*Subscription[*UserProfile], error) {
	url := fmt.Sprintf("%s/users/%s", self.connectUrl, uid)
	return newJsonSubscription[*UserProfile](ctx, url, self.byJwt, self.settings), nil
}

func (self *OurCanvasApi) ObservePartner(ctx context.Context, uid string, pairingId string) (*Subscription[*UserProfile], error) {
	url := fmt.Sprintf("%s/pairings/%s/partner?uid=%s", self.connectUrl, pairingId, uid)
	return newJsonSubscription[*UserProfile](ctx, url, self.byJwt, self.settings), nil
}

func (self *OurCanvasApi) UpdateMood(ctx context.Context, uid string, mood string) error {
	args := &updateMoodArgs{
		Mood: mood,
	}
	_, err := post(ctx, fmt.Sprintf("%s/users/%s/mood", self.apiUrl, uid), args, self.byJwt, &struct{}{})
	return err
}

func (self *OurCanvasApi) SetPairing(ctx context.Context, uid string, pairingId string) error {
	args := &setPairingArgs{
		PairingId: pairingId,
	}
	_, err := post(ctx, fmt.Sprintf("%s/users/%s/pairing", self.apiUrl, uid), args, self.byJwt, &struct{}{})
	return err
}

// PairingStore

type createPairingArgs struct {
	Uid string `json:"uid"`
}

type createPairingResult struct {
	PairingId string `json:"pairing_id"`
}

type joinPairingArgs struct {
	Uid string `json:"uid"`
}

type leavePairingArgs struct {
	Uid string `json:"uid"`
}

func (self *OurCanvasApi) CreatePairing(ctx context.Context, uid string) (string, error) {
	args := &createPairingArgs{
		Uid: uid,
	}
	result, err := post(ctx, fmt.Sprintf("%s/pairings", self.apiUrl), args, self.byJwt, &createPairingResult{})
	if err != nil {
		return "", err
	}
	return result.PairingId, nil
}

func (self *OurCanvasApi) JoinPairing(ctx context.Context, uid string, pairingId string) error {
	args := &joinPairingArgs{
		Uid: uid,
	}
	_, err := post(ctx, fmt.Sprintf("%s/pairings/%s/join", self.apiUrl, pairingId), args, self.byJwt, &struct{}{})
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.statusCode == http.StatusNotFound {
		return ErrPairingNotFound
	}
	return err
}

func (self *OurCanvasApi) LeavePairing(ctx context.Context, uid string) error {
	args := &leavePairingArgs{
		Uid: uid,
	}
	_, err := post(ctx, fmt.Sprintf("%s/pairings/leave", self.apiUrl), args, self.byJwt, &struct{}{})
	return err
}

// StrokeLog

func (self *OurCanvasApi) ObserveStrokes(ctx context.Context, pairingId string) (*Subscription[Stroke], error) {
	url := fmt.Sprintf("%s/canvases/%s/strokes", self.connectUrl, pairingId)
	return newJsonSubscription[Stroke](ctx, url, self.byJwt, self.settings), nil
}

func (self *OurCanvasApi) AppendStroke(ctx context.Context, pairingId string, stroke Stroke) error {
	_, err := post(ctx, fmt.Sprintf("%s/canvases/%s/strokes", self.apiUrl, pairingId), &stroke, self.byJwt, &struct{}{})
	return err
}

// TextStore

func (self *OurCanvasApi) ObserveTextObjects(ctx context.Context, pairingId string) (*Subscription[[]TextObject], error) {
	url := fmt.Sprintf("%s/canvases/%s/texts", self.connectUrl, pairingId)
	return newJsonSubscription[[]TextObject](ctx, url, self.byJwt, self.settings), nil
}

func (self *OurCanvasApi) UpsertTextObject(ctx context.Context, pairingId string, textObject TextObject) error {
	_, err := post(ctx, fmt.Sprintf("%s/canvases/%s/texts", self.apiUrl, pairingId), &textObject, self.byJwt, &struct{}{})
	return err
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		return result, &httpStatusError{
			statusCode: r.StatusCode,
			message:    strings.TrimSpace(string(responseBodyBytes)),
		}
	}

	if err != nil {
		return result, err
	}

	if len(responseBodyBytes) == 0 {
		return result, nil
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		return empty, err
	}

	return result, nil
}
