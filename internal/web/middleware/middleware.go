package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/auth"
	"github.com/clubinhonerd/clubinhonerd/internal/database"
)

type contextKey string

const (
	// UserContextKey is the context key for the authenticated user
	UserContextKey contextKey = "user"
	// SessionContextKey is the context key for the login session
	SessionContextKey contextKey = "session"
	csrfContextKey    contextKey = "csrf"
	peerContextKey    contextKey = "peer"
)

const (
	// SessionCookie holds the login session ID
	SessionCookie = "session"
	// CookieSessionName is the signed cookie session carrying flashes and the CSRF token
	CookieSessionName = "clubinhonerd"
	// CSRFField is the form field, and CSRFHeader the header, carrying the CSRF token
	CSRFField  = "csrf_token"
	CSRFHeader = "X-CSRF-Token"

	csrfSessionKey = "csrf_token"
)

// NewCookieStore creates the signed cookie store for flashes and CSRF tokens
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Logger is a middleware that logs requests
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("Request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// LoadUser puts the logged-in user, if any, on the request context.
// Anonymous requests pass through untouched.
func LoadUser(authService *auth.AuthService, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			session, err := authService.GetSession(cookie.Value)
			if err != nil {
				log.Error().Err(err).Msg("Failed to get session")
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				// Clear invalid cookie
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    "",
					Path:     "/",
					MaxAge:   -1,
					HttpOnly: true,
					Secure:   secure,
				})
				next.ServeHTTP(w, r)
				return
			}

			user, err := authService.GetUserByID(session.UserID)
			if err != nil || user == nil {
				next.ServeHTTP(w, r)
				return
			}

			// Extend session on activity
			if err := authService.ExtendSession(session.ID); err != nil {
				log.Debug().Err(err).Msg("Failed to extend session")
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			ctx = context.WithValue(ctx, SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLogin sends anonymous requests to the login page, remembering
// where they were headed
func RequireLogin(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUser(r.Context()) == nil {
				target := loginPath
				if r.Method == http.MethodGet {
					target = withNext(loginPath, r.URL.RequestURI())
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withNext(loginPath, next string) string {
	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + "next=" + url.QueryEscape(next)
}

// RequireStaff rejects users without the staff flag. It must run after
// RequireLogin.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil || !user.IsStaff {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CSRF issues a per-browser token kept in the cookie session and rejects
// unsafe requests that do not echo it back in the form or header
func CSRF(store sessions.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Get(r, CookieSessionName)
			if err != nil {
				// A cookie signed with an old key decodes to a fresh session
				log.Debug().Err(err).Msg("Discarding unreadable cookie session")
			}

			token, _ := sess.Values[csrfSessionKey].(string)
			if token == "" {
				token, err = newToken()
				if err != nil {
					log.Error().Err(err).Msg("Failed to generate CSRF token")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				sess.Values[csrfSessionKey] = token
				if err := sess.Save(r, w); err != nil {
					log.Error().Err(err).Msg("Failed to save cookie session")
				}
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				sent := r.Header.Get(CSRFHeader)
				if sent == "" {
					sent = r.FormValue(CSRFField)
				}
				if subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
					log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("CSRF token mismatch")
					http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey, token)))
		})
	}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetUser retrieves the user from context
func GetUser(ctx context.Context) *database.User {
	user, ok := ctx.Value(UserContextKey).(*database.User)
	if !ok {
		return nil
	}
	return user
}

// GetSession retrieves the login session from context
func GetSession(ctx context.Context) *database.Session {
	session, ok := ctx.Value(SessionContextKey).(*database.Session)
	if !ok {
		return nil
	}
	return session
}

// CSRFToken returns the request's CSRF token for rendering into forms
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey).(string)
	return token
}

// ParseSubnets parses CIDR strings for AllowSubnets
func ParseSubnets(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %q: %w", cidr, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// PeerAddr records the connection's RemoteAddr before RealIP rewrites it
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerContextKey, r.RemoteAddr)))
	})
}

func peerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(peerContextKey).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// AllowSubnets is a middleware that restricts access to connections from within the allowed subnets.
// This checks the actual connection source recorded by PeerAddr, useful for whitelisting reverse proxies.
func AllowSubnets(allowed []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If no subnet restriction, allow all
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			remote := peerAddr(r)
			host, _, err := net.SplitHostPort(remote)
			if err != nil {
				// Maybe it's just an IP without port
				host = remote
			}

			ip := net.ParseIP(host)
			if ip == nil {
				log.Warn().Str("remote_addr", remote).Msg("Could not parse remote address")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			for _, n := range allowed {
				if n.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Warn().
				Str("remote_addr", remote).
				Msg("Connection rejected: source IP not in allowed subnets")
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}
