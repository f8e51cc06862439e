package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens. *FirebaseVerifier is the production implementation.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns a Firebase bearer token into an Identity for the customer and admin routes.
type Authenticator struct {
	verifier TokenVerifier
	resolver PrincipalResolver
	logger   *zap.Logger
}

type Option func(*Authenticator)

// WithPrincipalResolver maps each verified email to the commerce user and role. Without one the
// Firebase UID doubles as the user id and every caller is a customer.
func WithPrincipalResolver(resolver PrincipalResolver) Option {
	return func(a *Authenticator) { a.resolver = resolver }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth admits requests whose caller resolves to a user holding one of roles. An
// empty roles list admits any resolved user.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.identify(r)
			if failure == nil && len(roles) > 0 && !hasAnyRole(identity, roles) {
				failure = &authFailure{http.StatusForbidden, "insufficient_role", "identity does not have required role"}
			}
			if failure != nil {
				failure.write(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identify(r *http.Request) (*Identity, *authFailure) {
	raw, ok := bearerToken(r)
	if !ok {
		return nil, &authFailure{http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid"}
	}
	if a == nil || a.verifier == nil {
		return nil, &authFailure{http.StatusUnauthorized, "unauthenticated", "authorization service unavailable"}
	}

	ctx := r.Context()
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, verificationFailure(err)
	}

	email, _ := token.Claims["email"].(string)
	identity := &Identity{UID: token.UID, Email: strings.TrimSpace(email)}
	if a.resolver == nil {
		identity.UserID = token.UID
		identity.Roles = []string{RoleCustomer}
		return identity, nil
	}

	if identity.Email == "" {
		return nil, &authFailure{http.StatusForbidden, "unknown_user", "token carries no email"}
	}
	principal, err := a.resolver.ResolvePrincipal(ctx, identity.Email)
	switch {
	case errors.Is(err, ErrUnknownPrincipal):
		return nil, &authFailure{http.StatusForbidden, "unknown_user", "no user registered for this account"}
	case err != nil:
		a.logger.Error("auth.principal.resolve_failed", zap.String("uid", identity.UID), zap.Error(err))
		return nil, &authFailure{http.StatusServiceUnavailable, "identity_unavailable", "unable to resolve user"}
	}

	identity.UserID = principal.UserID
	identity.Roles = []string{RoleCustomer}
	if role := normaliseRole(principal.Role); role != "" {
		identity.Roles = []string{role}
	}
	return identity, nil
}

func hasAnyRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func verificationFailure(err error) *authFailure {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return &authFailure{http.StatusUnauthorized, "token_expired", "firebase id token expired"}
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return &authFailure{http.StatusUnauthorized, "invalid_token", "firebase id token invalid"}
	default:
		return &authFailure{http.StatusUnauthorized, "invalid_token", "firebase id token verification failed"}
	}
}

// authFailure is the JSON rejection written by the auth middlewares.
type authFailure struct {
	status  int
	code    string
	message string
}

func (f *authFailure) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_ = json.NewEncoder(w).Encode(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Status  int    `json:"status"`
	}{f.code, f.message, f.status})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
