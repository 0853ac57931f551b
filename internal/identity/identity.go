// Package identity resolves who is reflecting and in which session.
//
// Browsers are identified by an opaque anonymous ID kept in a cookie. The
// session is chosen per request, so one device can hold several independent
// conversations.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/iceberg/internal/domain"
	"github.com/ashureev/iceberg/internal/store"
)

const (
	AnonCookieName        = "iceberg_anon_id"
	SessionHeaderName     = "X-Iceberg-Session-ID"
	DefaultSessionIDValue = "default"

	sessionQueryParam = "session_id"
	anonIDPrefix      = "anon_"
	cookieLifetime    = 30 * 24 * time.Hour
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is the caller of a request.
type Identity struct {
	UserID    string
	SessionID string
}

type ctxKey struct{}

// WithIdentity returns ctx carrying the caller. Used where the HTTP
// middleware does not run, such as tests.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{
		UserID:    userID,
		SessionID: NormalizeSessionID(sessionID),
	})
}

func fromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user ID, or "" when none is set.
func UserIDFromContext(ctx context.Context) string {
	id, _ := fromContext(ctx)
	return id.UserID
}

// SessionIDFromContext returns the caller's session, defaulting to
// DefaultSessionIDValue.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := fromContext(ctx); ok {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

// NormalizeSessionID trims id and replaces anything unusable with the
// default session.
func NormalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// EnsureUser creates the user row on first sight and refreshes last_seen_at
// afterwards.
func EnsureUser(ctx context.Context, repo store.Repository, userID string) error {
	existing, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if existing != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   displayName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// displayName is a short stable label for log lines and the users table.
func displayName(userID string) string {
	hexPart := strings.TrimPrefix(userID, anonIDPrefix)
	if hexPart == userID || len(hexPart) < 8 {
		return "anon-user"
	}
	return "anon-" + hexPart[len(hexPart)-8:]
}

// cookieIssuer reads and (re)issues the anonymous ID cookie.
type cookieIssuer struct {
	secure bool
}

// resolve returns the request's anonymous ID, minting one if the cookie is
// missing or malformed. The cookie is always rewritten so its expiry slides.
func (c cookieIssuer) resolve(w http.ResponseWriter, r *http.Request) (string, error) {
	var id string
	if ck, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(ck.Value) {
		id = ck.Value
	} else {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate anonymous id: %w", err)
		}
		id = anonIDPrefix + hex.EncodeToString(buf)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieLifetime / time.Second),
		Expires:  time.Now().Add(cookieLifetime),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
	return id, nil
}

// requestedSession reads the session from the header, falling back to the
// query string for websocket upgrades where browsers cannot set headers.
func requestedSession(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	return r.URL.Query().Get(sessionQueryParam)
}

// Middleware attaches an Identity to every request and makes sure the user
// row exists. Cookies are marked Secure unless isDev is set.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	issuer := cookieIssuer{secure: !isDev}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := issuer.resolve(w, r)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			if err := EnsureUser(r.Context(), repo, userID); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, requestedSession(r))))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
