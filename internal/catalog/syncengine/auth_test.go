package syncengine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine/soapclient"
)

// countingAuthServer serves the three-leg auth exchange and counts how many
// times each leg is hit, so tests can assert the fast path skips the first
// two legs.
func countingAuthServer(t *testing.T, accessExpiration time.Time) (*httptest.Server, map[string]int) {
	t.Helper()
	calls := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.Header.Get("SOAPAction")
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")

		switch {
		case strings.Contains(action, "GetAuthConfig"):
			calls["GetAuthConfig"]++
			fmt.Fprint(w, envelope(`<GetAuthConfigResponse><GetAuthConfigResult><PluginNames><string>Anonymous</string></PluginNames></GetAuthConfigResult></GetAuthConfigResponse>`))

		case strings.Contains(action, "GetAuthorizationCookie"):
			calls["GetAuthorizationCookie"]++
			fmt.Fprint(w, envelope(`<GetAuthorizationCookieResponse><GetAuthorizationCookieResult><CookieData>auth-cookie-data</CookieData><Expiration>`+futureRFC3339()+`</Expiration></GetAuthorizationCookieResult></GetAuthorizationCookieResponse>`))

		case strings.Contains(action, "GetCookie"):
			calls["GetCookie"]++
			fmt.Fprint(w, envelope(`<GetCookieResponse><GetCookieResult><EncryptedData>access-cookie-data</EncryptedData><Expiration>`+accessExpiration.UTC().Format(time.RFC3339)+`</Expiration></GetCookieResult></GetCookieResponse>`))

		default:
			http.Error(w, "unknown action: "+action, http.StatusBadRequest)
		}
	}))
	return srv, calls
}

func TestAuthenticator_AccessCookie_CachesUntilNearExpiry(t *testing.T) {
	srv, calls := countingAuthServer(t, time.Now().Add(time.Hour))
	defer srv.Close()

	soap := soapclient.New(srv.URL, 5*time.Second)
	auth := NewAuthenticator(soap, "acct", "key", time.Hour)

	cookie1, err := auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "access-cookie-data", cookie1)
	require.Equal(t, 1, calls["GetAuthConfig"])

	cookie2, err := auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, cookie1, cookie2)
	require.Equal(t, 1, calls["GetAuthConfig"], "a cached, far-from-expiry cookie must not trigger re-auth")
}

func TestAuthenticator_AccessCookie_NearExpiryUsesFastPath(t *testing.T) {
	// Access cookie expires inside the safety margin; the cached auth cookie
	// is still valid, so only GetCookie should run on the second call.
	srv, calls := countingAuthServer(t, time.Now().Add(accessCookieSafetyMargin/2))
	defer srv.Close()

	soap := soapclient.New(srv.URL, 5*time.Second)
	auth := NewAuthenticator(soap, "acct", "key", time.Hour)

	_, err := auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls["GetAuthConfig"])
	require.Equal(t, 1, calls["GetAuthorizationCookie"])
	require.Equal(t, 1, calls["GetCookie"])

	_, err = auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls["GetAuthConfig"], "fast path must not redo GetAuthConfig")
	require.Equal(t, 1, calls["GetAuthorizationCookie"], "fast path must not redo GetAuthorizationCookie")
	require.Equal(t, 2, calls["GetCookie"], "fast path still re-exchanges the access cookie")
}

func TestAuthenticator_Invalidate_ForcesReExchange(t *testing.T) {
	srv, calls := countingAuthServer(t, time.Now().Add(time.Hour))
	defer srv.Close()

	soap := soapclient.New(srv.URL, 5*time.Second)
	auth := NewAuthenticator(soap, "acct", "key", time.Hour)

	cookie1, err := auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls["GetAuthConfig"])
	require.Equal(t, 1, calls["GetCookie"])

	auth.Invalidate()
	require.Equal(t, StateUnauthenticated, auth.State())

	cookie2, err := auth.AccessCookie(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, cookie1, cookie2)
	require.Equal(t, 1, calls["GetAuthConfig"], "the cached auth cookie is still valid, so invalidation only redoes the final leg")
	require.Equal(t, 2, calls["GetCookie"], "invalidation must force a fresh access cookie exchange")
}
