package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine/soapclient"
)

// AuthState is a state in the server-to-server auth exchange (spec §4.1):
// Unauthenticated -> HaveAuthInfo -> HaveAuthCookie -> HaveAccessCookie.
// Each forward transition is driven by exactly one SOAP RPC. An access
// cookie inside the safety margin is refreshed with GetCookie alone while the
// cached auth cookie is still valid; otherwise the exchange restarts from
// Unauthenticated.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateHaveAuthInfo
	StateHaveAuthCookie
	StateHaveAccessCookie
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateHaveAuthInfo:
		return "have_auth_info"
	case StateHaveAuthCookie:
		return "have_auth_cookie"
	case StateHaveAccessCookie:
		return "have_access_cookie"
	default:
		return "unknown"
	}
}

// accessCookieSafetyMargin is subtracted from the access cookie's expiration
// check so a cookie that is about to expire mid-call is refreshed proactively
// instead of being handed out and rejected a moment later.
const accessCookieSafetyMargin = 2 * time.Minute

// Authenticator drives the auth state machine against an upstream server and
// caches the resulting access cookie until it nears expiry. It also caches
// the intermediate auth cookie so a near-expiry access cookie can usually be
// refreshed with just the final GetCookie leg (spec §4.1's fast path)
// instead of redoing the full GetAuthConfig/GetAuthorizationCookie exchange.
type Authenticator struct {
	soap           *soapclient.Client
	accountName    string
	accountKey     string
	cookieLifetime time.Duration

	mu         sync.Mutex
	state      AuthState
	authCookie *soapclient.AuthCookie
	access     *soapclient.AccessCookie
}

// NewAuthenticator builds an Authenticator. cookieLifetime caps the assumed
// validity window of an issued access cookie, even if the server-reported
// expiry is later; once it has passed, the next AccessCookie call
// re-exchanges the access cookie (spec §4.1).
func NewAuthenticator(soap *soapclient.Client, accountName, accountKey string, cookieLifetime time.Duration) *Authenticator {
	return &Authenticator{
		soap:           soap,
		accountName:    accountName,
		accountKey:     accountKey,
		cookieLifetime: cookieLifetime,
		state:          StateUnauthenticated,
	}
}

// State returns the authenticator's current state.
func (a *Authenticator) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// AccessCookie returns a valid access cookie, running the full exchange (or
// just the final leg, if a still-valid auth cookie is cached) as needed.
// onTransition, if non-nil, is called after each successful state
// transition so callers can emit progress events.
func (a *Authenticator) AccessCookie(ctx context.Context, onTransition func(state AuthState)) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.access != nil && a.state == StateHaveAccessCookie &&
		time.Now().Add(accessCookieSafetyMargin).Before(a.access.Expiration) {
		return a.access.Data, nil
	}

	if a.authCookie != nil && time.Now().Before(a.authCookie.Expiration) {
		access, err := a.soap.GetCookie(ctx, a.authCookie.Data)
		if err == nil {
			a.commitAccessCookie(access)
			if onTransition != nil {
				onTransition(a.state)
			}
			return a.access.Data, nil
		}
		// The cached auth cookie itself may have been invalidated server-side;
		// fall through to a full re-exchange.
		a.authCookie = nil
	}

	a.state = StateUnauthenticated

	if _, err := a.soap.GetAuthConfig(ctx); err != nil {
		return "", fmt.Errorf("syncengine: auth: GetAuthConfig: %w", err)
	}
	a.state = StateHaveAuthInfo
	if onTransition != nil {
		onTransition(a.state)
	}

	authCookie, err := a.soap.GetAuthorizationCookie(ctx, a.accountName, a.accountKey)
	if err != nil {
		return "", fmt.Errorf("syncengine: auth: GetAuthorizationCookie: %w", err)
	}
	a.authCookie = authCookie
	a.state = StateHaveAuthCookie
	if onTransition != nil {
		onTransition(a.state)
	}

	access, err := a.soap.GetCookie(ctx, authCookie.Data)
	if err != nil {
		return "", fmt.Errorf("syncengine: auth: GetCookie: %w", err)
	}
	a.commitAccessCookie(access)

	if onTransition != nil {
		onTransition(a.state)
	}

	return a.access.Data, nil
}

func (a *Authenticator) commitAccessCookie(access *soapclient.AccessCookie) {
	a.state = StateHaveAccessCookie
	expiryCap := time.Now().Add(a.cookieLifetime)
	if access.Expiration.IsZero() || access.Expiration.After(expiryCap) {
		access.Expiration = expiryCap
	}
	a.access = access
}

// Invalidate drops the cached access cookie and forces the next AccessCookie
// call to re-exchange it. Callers use this after an upstream RPC reports an
// InvalidAuthorizationCookie fault: the access cookie the caller was handed
// was rejected, so it must not be handed out again. The cached auth cookie
// is left in place, since only the final leg was rejected; if it's still
// valid, the next call takes the fast path rather than a full re-exchange.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.access = nil
	a.state = StateUnauthenticated
}
