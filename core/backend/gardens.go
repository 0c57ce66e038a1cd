package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// Garden is a stored garden. Grid is the planting layout, kept as an opaque
// json document; the backend never interprets it.
type Garden struct {
	GardenID int             `json:"garden_id"`
	UserID   int             `json:"user_id"`
	Name     string          `json:"name"`
	Grid     json.RawMessage `json:"grid"`
}

type newGardenRequest struct {
	UserID int             `json:"user_id"`
	Name   string          `json:"name"`
	Grid   json.RawMessage `json:"grid"`
}

type updateGardenRequest struct {
	Name *string         `json:"name"`
	Grid json.RawMessage `json:"grid"`
}

type gardenCollectionRequest struct {
	UserID int `json:"user_id"`
}

const gardenColumns = "garden_id, user_id, name, grid"

type gardenStore struct {
	db *csql.DB

	listQuery       string
	listByUserQuery string
	readQuery       string
	insertQuery     string
	updatePrefix    string
}

func newGardenStore(db *csql.DB) *gardenStore {
	return &gardenStore{
		db: db,
		listQuery: fmt.Sprintf("SELECT %s FROM %s.gardens ORDER BY garden_id;",
			gardenColumns, db.Schema),
		listByUserQuery: fmt.Sprintf("SELECT %s FROM %s.gardens WHERE user_id = $1 ORDER BY garden_id;",
			gardenColumns, db.Schema),
		readQuery: fmt.Sprintf("SELECT %s FROM %s.gardens WHERE garden_id = $1;",
			gardenColumns, db.Schema),
		insertQuery: fmt.Sprintf("INSERT INTO %s.gardens (user_id, name, grid) "+
			"VALUES($1,$2,$3) RETURNING %s;", db.Schema, gardenColumns),
		updatePrefix: fmt.Sprintf("UPDATE %s.gardens SET ", db.Schema),
	}
}

func (g *Garden) scanTargets() []interface{} {
	return []interface{}{&g.GardenID, &g.UserID, &g.Name, &g.Grid}
}

func (s *gardenStore) collect(rows *sql.Rows) ([]Garden, error) {
	defer rows.Close()
	gardens := []Garden{}
	for rows.Next() {
		var g Garden
		if err := rows.Scan(g.scanTargets()...); err != nil {
			return nil, err
		}
		gardens = append(gardens, g)
	}
	return gardens, rows.Err()
}

func (s *gardenStore) listAll(ctx context.Context) ([]Garden, error) {
	rows, err := s.db.QueryContext(ctx, s.listQuery)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *gardenStore) listByUser(ctx context.Context, userID int) ([]Garden, error) {
	rows, err := s.db.QueryContext(ctx, s.listByUserQuery, userID)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *gardenStore) read(ctx context.Context, gardenID string) (Garden, error) {
	var g Garden
	err := s.db.QueryRowContext(ctx, s.readQuery, gardenID).Scan(g.scanTargets()...)
	if err == csql.ErrNoRows {
		return Garden{}, ErrNotFound
	}
	return g, err
}

func (s *gardenStore) create(ctx context.Context, req newGardenRequest) (Garden, error) {
	grid := req.Grid
	if grid == nil {
		grid = json.RawMessage("[]")
	}
	var g Garden
	err := s.db.QueryRowContext(ctx, s.insertQuery,
		req.UserID, req.Name, []byte(grid)).Scan(g.scanTargets()...)
	return g, err
}

func (s *gardenStore) update(ctx context.Context, gardenID string, req updateGardenRequest) (Garden, error) {
	sets, args, err := buildPatch(gardenID, []patchField{
		{"name", patchString(req.Name)},
		{"grid", patchJSON(req.Grid)},
	})
	if err != nil {
		return Garden{}, err
	}
	query := s.updatePrefix + sets + " WHERE garden_id = $1 RETURNING " + gardenColumns + ";"
	var g Garden
	err = s.db.QueryRowContext(ctx, query, args...).Scan(g.scanTargets()...)
	if err == csql.ErrNoRows {
		return Garden{}, ErrNotFound
	}
	return g, err
}

func (b *Backend) handleGardenRoutes(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("garden routes: /gardens POST")
	nillog.Debugln("garden routes: /gardens/all GET")
	nillog.Debugln("garden routes: /gardens/collection POST")
	nillog.Debugln("garden routes: /gardens/{garden_id} GET,PATCH")

	store := newGardenStore(b.db)

	list := func(w http.ResponseWriter, r *http.Request) {
		gardens, err := store.listAll(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot list gardens")
			http.Error(w, "cannot list gardens", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"gardens": gardens})
	}

	collection := func(w http.ResponseWriter, r *http.Request) {
		var req gardenCollectionRequest
		if !b.validateBody(w, r, schemaCollection, &req) {
			return
		}
		gardens, err := store.listByUser(r.Context(), req.UserID)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot list gardens")
			http.Error(w, "cannot list gardens", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"gardens": gardens})
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		gardenID := mux.Vars(r)["garden_id"]
		garden, err := store.read(r.Context(), gardenID)
		if err == ErrNotFound {
			http.Error(w, "no such garden", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot read garden")
			http.Error(w, "cannot read garden", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"garden": garden})
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		var req newGardenRequest
		if !b.validateBody(w, r, schemaGardenNew, &req) {
			return
		}
		garden, err := store.create(r.Context(), req)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot create garden")
			http.Error(w, "cannot create garden", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "garden", core.OperationCreate, garden)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"garden": garden})
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		gardenID := mux.Vars(r)["garden_id"]
		var req updateGardenRequest
		if !b.validateBody(w, r, schemaGardenUpdate, &req) {
			return
		}
		garden, err := store.update(r.Context(), gardenID, req)
		switch {
		case err == ErrEmptyPatch:
			http.Error(w, ErrEmptyPatch.Error(), http.StatusBadRequest)
			return
		case err == ErrNotFound:
			http.Error(w, "no such garden", http.StatusNotFound)
			return
		case err != nil:
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot update garden")
			http.Error(w, "cannot update garden", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "garden", core.OperationUpdate, garden)
		writeJSON(w, http.StatusOK, map[string]interface{}{"garden": garden})
	}

	// the fixed paths must be added before the variable one. OPTIONS goes
	// to the CORS middleware, it never reaches the handlers.
	router.Handle("/gardens/all", handlers.CompressHandler(access.EnsureAdmin(list))).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/gardens/collection", access.EnsureAuthenticated(collection)).Methods(http.MethodPost, http.MethodOptions)
	router.Handle("/gardens", access.EnsureAuthenticated(create)).Methods(http.MethodPost, http.MethodOptions)
	router.Handle("/gardens/{garden_id:[0-9]+}", access.EnsureAuthenticated(read)).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/gardens/{garden_id:[0-9]+}", access.EnsureAuthenticated(update)).Methods(http.MethodPatch, http.MethodOptions)
}
