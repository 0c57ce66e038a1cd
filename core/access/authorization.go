/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

/*Authorization is a context object which identifies the caller of a request.

It carries the caller's username and whether the caller has admin rights.

Authorizations are added to a request context with

  ctx = auth.ContextWithAuthorization(ctx)

and retrieved with

  auth := AuthorizationFromContext(ctx)

Authorization objects are added to the context by the token middleware,
depending on the identity token in the HTTP request. Attaching the identity
never fails a request by itself; an absent or invalid token simply leaves
the context without an authorization, and the guards below decide whether
that is an error for a particular route.
*/
type Authorization struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// EnsureAuthenticated wraps h into a guard which rejects requests that do
// not carry a verified identity.
func EnsureAuthenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if AuthorizationFromContext(r.Context()) == nil {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// EnsureAdmin wraps h into a guard which rejects requests that do not carry
// a verified identity with admin rights.
func EnsureAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil || !auth.IsAdmin {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// EnsureSelfOrAdmin wraps h into a guard which rejects requests unless the
// verified identity matches the username in the route variable param, or
// the identity has admin rights.
func EnsureSelfOrAdmin(param string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil || (mux.Vars(r)[param] != auth.Username && !auth.IsAdmin) {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
