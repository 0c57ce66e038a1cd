package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/pointers"
)

// User is the stored user row. The password hash never leaves the backend.
type User struct {
	UserID   int             `json:"user_id"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Location json.RawMessage `json:"location"`
	IsAdmin  bool            `json:"is_admin"`
}

type newUserRequest struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Email    string          `json:"email"`
	Location json.RawMessage `json:"location"`
	IsAdmin  bool            `json:"is_admin"`
}

type updateUserRequest struct {
	Username *string         `json:"username"`
	Password *string         `json:"password"`
	Email    *string         `json:"email"`
	Location json.RawMessage `json:"location"`
	IsAdmin  *bool           `json:"is_admin"`
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

const userColumns = "user_id, username, email, location, is_admin"

// userStore provides the user rows
type userStore struct {
	db         *csql.DB
	bcryptCost int

	listQuery    string
	readQuery    string
	insertQuery  string
	updatePrefix string
	authQuery    string
}

func newUserStore(db *csql.DB, bcryptCost int) *userStore {
	return &userStore{
		db:         db,
		bcryptCost: bcryptCost,
		listQuery: fmt.Sprintf("SELECT %s FROM %s.users ORDER BY user_id;",
			userColumns, db.Schema),
		readQuery: fmt.Sprintf("SELECT %s FROM %s.users WHERE username = $1;",
			userColumns, db.Schema),
		insertQuery: fmt.Sprintf("INSERT INTO %s.users (username, password, email, location, is_admin) "+
			"VALUES($1,$2,$3,$4,$5) RETURNING %s;", db.Schema, userColumns),
		updatePrefix: fmt.Sprintf("UPDATE %s.users SET ", db.Schema),
		authQuery: fmt.Sprintf("SELECT %s, password FROM %s.users WHERE username = $1;",
			userColumns, db.Schema),
	}
}

// nullJSON scans a nullable JSONB column into a json.RawMessage. SQL NULL
// becomes a nil message, which serializes as json null.
type nullJSON struct {
	raw *json.RawMessage
}

func (n nullJSON) Scan(value interface{}) error {
	if value == nil {
		*n.raw = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		// the driver may reuse the buffer after Scan returns
		*n.raw = append(json.RawMessage(nil), v...)
	case string:
		*n.raw = json.RawMessage(v)
	default:
		return fmt.Errorf("cannot scan %T into json", value)
	}
	return nil
}

func (u *User) scanTargets() []interface{} {
	return []interface{}{&u.UserID, &u.Username, &u.Email, nullJSON{&u.Location}, &u.IsAdmin}
}

func (s *userStore) listAll(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, s.listQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(u.scanTargets()...); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) read(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.readQuery, username).Scan(u.scanTargets()...)
	if err == csql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

// register hashes the password and inserts the new user. A taken username
// surfaces as ErrDuplicateUsername, raised by the unique index.
func (s *userStore) register(ctx context.Context, req newUserRequest) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return User{}, err
	}
	var u User
	err = s.db.QueryRowContext(ctx, s.insertQuery,
		req.Username, string(hash), req.Email, patchJSON(req.Location), req.IsAdmin).
		Scan(u.scanTargets()...)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateUsername
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// phantomHash is a hash of no valid password. Failed logins compare against
// it when the user does not exist, so both failure cases take the same time.
var phantomHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// authenticate checks username and password. The two failure cases, unknown
// user and wrong password, are indistinguishable to the caller.
func (s *userStore) authenticate(ctx context.Context, username, password string) (User, error) {
	var u User
	var hash string
	targets := append(u.scanTargets(), &hash)
	err := s.db.QueryRowContext(ctx, s.authQuery, username).Scan(targets...)
	if err == csql.ErrNoRows {
		bcrypt.CompareHashAndPassword(phantomHash, []byte(password))
		return User{}, ErrInvalidLogin
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrInvalidLogin
	}
	return u, nil
}

// update applies the present fields to the stored row and returns the row
// post-update. A username change races on the same unique index as register.
func (s *userStore) update(ctx context.Context, username string, req updateUserRequest) (User, error) {
	password := req.Password
	if password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), s.bcryptCost)
		if err != nil {
			return User{}, err
		}
		password = pointers.StringPtr(string(hash))
	}
	sets, args, err := buildPatch(username, []patchField{
		{"username", patchString(req.Username)},
		{"password", patchString(password)},
		{"email", patchString(req.Email)},
		{"location", patchJSON(req.Location)},
		{"is_admin", patchBool(req.IsAdmin)},
	})
	if err != nil {
		return User{}, err
	}
	query := s.updatePrefix + sets + " WHERE username = $1 RETURNING " + userColumns + ";"
	var u User
	err = s.db.QueryRowContext(ctx, query, args...).Scan(u.scanTargets()...)
	if err == csql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateUsername
	}
	return u, err
}

func (b *Backend) handleUserRoutes(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("user routes: /users GET,POST")
	nillog.Debugln("user routes: /users/login POST")
	nillog.Debugln("user routes: /users/{username} GET,PATCH")

	store := newUserStore(b.db, b.bcryptCost)

	list := func(w http.ResponseWriter, r *http.Request) {
		users, err := store.listAll(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot list users")
			http.Error(w, "cannot list users", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		user, err := store.read(r.Context(), username)
		if err == ErrNotFound {
			http.Error(w, "no such user", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot read user")
			http.Error(w, "cannot read user", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		var req newUserRequest
		if !b.validateBody(w, r, schemaUserNew, &req) {
			return
		}
		user, err := store.register(r.Context(), req)
		if err == ErrDuplicateUsername {
			http.Error(w, `username "`+req.Username+`" is taken`, http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot register user")
			http.Error(w, "cannot register user", http.StatusInternalServerError)
			return
		}
		token, err := b.issuer.Create(access.Authorization{Username: user.Username, IsAdmin: user.IsAdmin})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot create token")
			http.Error(w, "cannot create token", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "user", core.OperationCreate, user)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"user": user, "token": token})
	}

	login := func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		if !b.validateBody(w, r, schemaUserAuth, &req) {
			return
		}
		user, err := store.authenticate(r.Context(), req.Username, req.Password)
		if err == ErrInvalidLogin {
			http.Error(w, ErrInvalidLogin.Error(), http.StatusUnauthorized)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot authenticate user")
			http.Error(w, "cannot authenticate user", http.StatusInternalServerError)
			return
		}
		token, err := b.issuer.Create(access.Authorization{Username: user.Username, IsAdmin: user.IsAdmin})
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot create token")
			http.Error(w, "cannot create token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "token": token})
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		var req updateUserRequest
		if !b.validateBody(w, r, schemaUserUpdate, &req) {
			return
		}
		user, err := store.update(r.Context(), username, req)
		switch {
		case err == ErrEmptyPatch:
			http.Error(w, ErrEmptyPatch.Error(), http.StatusBadRequest)
			return
		case err == ErrNotFound:
			http.Error(w, "no such user", http.StatusNotFound)
			return
		case err == ErrDuplicateUsername:
			http.Error(w, `username "`+pointers.SafeString(req.Username)+`" is taken`, http.StatusBadRequest)
			return
		case err != nil:
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot update user")
			http.Error(w, "cannot update user", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "user", core.OperationUpdate, user)
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
	}

	// OPTIONS goes to the CORS middleware, it never reaches the handlers
	router.Handle("/users", handlers.CompressHandler(access.EnsureAdmin(list))).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/users", create).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/users/login", login).Methods(http.MethodPost, http.MethodOptions)
	router.Handle("/users/{username}", access.EnsureAuthenticated(read)).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/users/{username}", access.EnsureSelfOrAdmin("username", update)).Methods(http.MethodPatch, http.MethodOptions)
}
