/*Package backend implements the gardening-planning REST backend.

It stores users, gardens and plants in a postgres database and adds the
routes for them to a mux router. Identity is carried by a signed token in
the Authorization header; the routes are protected by the guards from the
access package.
*/
package backend

import (
	"context"
	"embed"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/schema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// the $id values of the embedded request schemas
const (
	schemaUserNew      = "urn:gardenbase:user-new"
	schemaUserUpdate   = "urn:gardenbase:user-update"
	schemaUserAuth     = "urn:gardenbase:user-auth"
	schemaGardenNew    = "urn:gardenbase:garden-new"
	schemaGardenUpdate = "urn:gardenbase:garden-update"
	schemaPlantNew     = "urn:gardenbase:plant-new"
	schemaPlantUpdate  = "urn:gardenbase:plant-update"
	// shared by the garden and plant collection routes
	schemaCollection = "urn:gardenbase:collection"
)

// Backend is the gardening-planning rest backend
type Backend struct {
	db            *csql.DB
	router        *mux.Router
	validator     *schema.Validator
	issuer        access.TokenIssuer
	bcryptCost    int
	allowedOrigin string
	notifier      core.Notifier
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// SecretKey signs identity tokens. This is mandatory.
	SecretKey string
	// BcryptCost is the work factor for password hashing. Optional,
	// defaults to bcrypt.DefaultCost.
	BcryptCost int
	// AllowedOrigin is the origin allowed for cross-origin requests.
	// Optional, defaults to "*".
	AllowedOrigin string
	// Notifier receives entity change notifications. This is optional.
	Notifier core.Notifier
}

// New realizes the actual backend. It creates the sql relations (if they
// do not exist) and adds the routes to the router.
func New(bb *Builder) *Backend {

	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if len(bb.SecretKey) == 0 {
		panic("SecretKey is missing")
	}

	validator, err := schema.NewValidatorFromFS(schemaFS, "schemas")
	if err != nil {
		panic(fmt.Errorf("cannot compile request schemas: %s", err))
	}

	cost := bb.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	origin := bb.AllowedOrigin
	if len(origin) == 0 {
		origin = "*"
	}

	b := &Backend{
		db:            bb.DB,
		router:        bb.Router,
		validator:     validator,
		issuer:        access.TokenIssuer{Secret: []byte(bb.SecretKey)},
		bcryptCost:    cost,
		allowedOrigin: origin,
		notifier:      bb.Notifier,
	}

	b.createRelations()
	b.handleCORS()
	b.router.Use(access.NewTokenMiddleware(b.issuer))
	b.handleUserRoutes(b.router)
	b.handleGardenRoutes(b.router)
	b.handlePlantRoutes(b.router)
	return b
}

// TokenIssuer returns the issuer for identity tokens
func (b *Backend) TokenIssuer() access.TokenIssuer {
	return b.issuer
}

// createRelations creates the sql relations if they do not exist yet.
// The unique index on username is the single source of truth for duplicate
// usernames; concurrent registrations race on it, not on application level
// checks. Gardens and plants reference their owner and disappear with it.
func (b *Backend) createRelations() {
	schema := b.db.Schema
	_, err := b.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s.users
(user_id SERIAL PRIMARY KEY,
username VARCHAR NOT NULL UNIQUE,
password VARCHAR NOT NULL,
email VARCHAR NOT NULL,
location JSONB,
is_admin BOOLEAN NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS %[1]s.gardens
(garden_id SERIAL PRIMARY KEY,
user_id INTEGER NOT NULL REFERENCES %[1]s.users ON DELETE CASCADE,
name VARCHAR NOT NULL,
grid JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS %[1]s.plants
(plant_id SERIAL PRIMARY KEY,
user_id INTEGER NOT NULL REFERENCES %[1]s.users ON DELETE CASCADE,
common_name VARCHAR NOT NULL,
scientific_name VARCHAR NOT NULL DEFAULT '',
bloom_color TEXT[] NOT NULL DEFAULT '{}',
bloom_months TEXT[] NOT NULL DEFAULT '{}'
);`, schema))
	if err != nil {
		panic(err)
	}
}

// notify sends an entity change notification if a notifier is configured
func (b *Backend) notify(ctx context.Context, resource string, operation core.Operation, object interface{}) {
	if b.notifier == nil {
		return
	}
	payload, err := json.Marshal(object)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot marshal notification payload")
		return
	}
	b.notifier.Notify(resource, operation, payload)
}

// validateBody validates the request body against the schema with schemaID
// and unmarshals it into request. It returns false after answering the
// request when the body is no good.
func (b *Backend) validateBody(w http.ResponseWriter, r *http.Request, schemaID string, request interface{}) bool {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := b.validator.ValidateString(string(body), schemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, request); err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
