package access

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// TokenIssuer creates and verifies signed identity tokens.
//
// Tokens are JWT with an HMAC signature, embedding the caller's username
// and admin flag. They carry no expiry.
type TokenIssuer struct {
	Secret []byte
}

type identityClaims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Create returns a signed token for the passed authorization.
func (t TokenIssuer) Create(auth Authorization) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identityClaims{
		Username: auth.Username,
		IsAdmin:  auth.IsAdmin,
	})
	return token.SignedString(t.Secret)
}

// Verify decodes tokenString and checks its signature. It returns the
// embedded authorization, or an error if the signature or the structure
// is wrong. Verify does not concern itself with absent tokens, that is
// the caller's business.
func (t TokenIssuer) Verify(tokenString string) (*Authorization, error) {
	claims := identityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return &Authorization{Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}

// NewTokenMiddleware returns a middleware handler to validate identity
// tokens.
//
// Tokens are accepted as plain "Authorization" header value or with a
// "Bearer " prefix.
//
// The middleware attaches the verified identity to the request context and
// moves on. It deliberately does not reject anything: public routes must
// work without a token, so a missing or invalid token only means that no
// authorization is attached, and the route's guards decide whether that is
// acceptable.
func NewTokenMiddleware(issuer TokenIssuer) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth, err := issuer.Verify(tokenString)
			if err != nil {
				logger.FromContext(r.Context()).WithError(err).Debugln("request with invalid token")
				h.ServeHTTP(w, r)
				return
			}

			// now that we have authenticated the requester, we store their identity in the context
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.Username)
			ctx = auth.ContextWithAuthorization(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
