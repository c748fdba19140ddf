package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// CallerHeader carries the caller's account when header authentication is allowed.
const CallerHeader = "X-Caller-Address"

type callerKey struct{}

var (
	errMissingToken = errors.New("missing bearer token")
	errBadSubject   = errors.New("token subject is not an account address")
)

// Claims identifies the caller by account address in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Auth resolves the calling account. A bearer token signed with the shared secret always
// wins; the caller header is only trusted when AllowHeader is set. Requests without
// credentials pass through anonymously and are rejected by handlers that need a caller.
type Auth struct {
	secret      []byte
	allowHeader bool
	logger      logrus.FieldLogger
}

// NewAuth creates the caller middleware. An empty secret disables token authentication.
func NewAuth(secret string, allowHeader bool, logger logrus.FieldLogger) *Auth {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Auth{secret: []byte(secret), allowHeader: allowHeader, logger: logger}
}

// Handler returns the middleware handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if header := r.Header.Get("Authorization"); header != "" && len(a.secret) > 0 {
			caller, err := a.fromToken(header)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"method": r.Method,
				}).WithError(err).Warn("authentication failed")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "invalid token"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		if a.allowHeader {
			if v := r.Header.Get(CallerHeader); common.IsHexAddress(v) {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), common.HexToAddress(v))))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) fromToken(header string) (common.Address, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return common.Address{}, errMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, errBadSubject
	}
	return common.HexToAddress(claims.Subject), nil
}

// IssueToken signs a token for account, used by the CLI and tests.
func IssueToken(secret string, account common.Address, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = account.Hex()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}
