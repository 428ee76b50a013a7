package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// HeaderUsername names the caller when JWT identities are disabled.
const HeaderUsername = "username"

// Identity is the marketplace user a request acts for.
type Identity struct {
	Username string
	Address  string
}

// Directory resolves usernames to ledger accounts.
type Directory interface {
	Lookup(username string) (Identity, bool)
}

type AuthConfig struct {
	// JWT switches identity extraction from the username header to a
	// bearer token whose UsernameClaim names the user.
	JWT           bool
	HMACSecret    string
	Issuer        string
	Audience      string
	UsernameClaim string
	ClockSkew     time.Duration
}

type contextKey string

const contextKeyIdentity contextKey = "gateway.identity"

// invalidUsernameMessage is the body clients receive for unknown callers.
const invalidUsernameMessage = "Invalid username"

type Authenticator struct {
	cfg       AuthConfig
	directory Directory
	logger    *slog.Logger
	secret    []byte
}

func NewAuthenticator(cfg AuthConfig, directory Directory, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "sub"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:       cfg,
		directory: directory,
		logger:    logger,
		secret:    []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware resolves the caller's identity and rejects the request when it
// cannot be established.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(HeaderUsername))
		if a.cfg.JWT {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err == nil {
				err = validateClaims(claims, a.cfg.Issuer, a.cfg.Audience)
			}
			if err != nil {
				a.logger.Warn("auth: token rejected", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			username, _ = claims[a.cfg.UsernameClaim].(string)
			username = strings.TrimSpace(username)
		}
		identity, ok := a.resolve(username)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, invalidUsernameMessage)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(username string) (Identity, bool) {
	if username == "" || a.directory == nil {
		return Identity{}, false
	}
	return a.directory.Lookup(username)
}

// IdentityFromContext returns the identity attached by the authenticator.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
