package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// Plant is a plant a user has saved for planning, typically picked from the
// plant lookup and trimmed down to the fields the planner needs.
type Plant struct {
	PlantID        int      `json:"plant_id"`
	UserID         int      `json:"user_id"`
	CommonName     string   `json:"common_name"`
	ScientificName string   `json:"scientific_name"`
	BloomColor     []string `json:"bloom_color"`
	BloomMonths    []string `json:"bloom_months"`
}

type newPlantRequest struct {
	UserID         int      `json:"user_id"`
	CommonName     string   `json:"common_name"`
	ScientificName string   `json:"scientific_name"`
	BloomColor     []string `json:"bloom_color"`
	BloomMonths    []string `json:"bloom_months"`
}

type updatePlantRequest struct {
	CommonName     *string  `json:"common_name"`
	ScientificName *string  `json:"scientific_name"`
	BloomColor     []string `json:"bloom_color"`
	BloomMonths    []string `json:"bloom_months"`
}

type plantCollectionRequest struct {
	UserID int `json:"user_id"`
}

const plantColumns = "plant_id, user_id, common_name, scientific_name, bloom_color, bloom_months"

type plantStore struct {
	db *csql.DB

	listQuery       string
	listByUserQuery string
	readQuery       string
	insertQuery     string
	updatePrefix    string
}

func newPlantStore(db *csql.DB) *plantStore {
	return &plantStore{
		db: db,
		listQuery: fmt.Sprintf("SELECT %s FROM %s.plants ORDER BY plant_id;",
			plantColumns, db.Schema),
		listByUserQuery: fmt.Sprintf("SELECT %s FROM %s.plants WHERE user_id = $1 ORDER BY plant_id;",
			plantColumns, db.Schema),
		readQuery: fmt.Sprintf("SELECT %s FROM %s.plants WHERE plant_id = $1;",
			plantColumns, db.Schema),
		insertQuery: fmt.Sprintf("INSERT INTO %s.plants (user_id, common_name, scientific_name, bloom_color, bloom_months) "+
			"VALUES($1,$2,$3,$4,$5) RETURNING %s;", db.Schema, plantColumns),
		updatePrefix: fmt.Sprintf("UPDATE %s.plants SET ", db.Schema),
	}
}

func (p *Plant) scanTargets() []interface{} {
	return []interface{}{&p.PlantID, &p.UserID, &p.CommonName, &p.ScientificName,
		pq.Array(&p.BloomColor), pq.Array(&p.BloomMonths)}
}

func (s *plantStore) collect(rows *sql.Rows) ([]Plant, error) {
	defer rows.Close()
	plants := []Plant{}
	for rows.Next() {
		var p Plant
		if err := rows.Scan(p.scanTargets()...); err != nil {
			return nil, err
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

func (s *plantStore) listAll(ctx context.Context) ([]Plant, error) {
	rows, err := s.db.QueryContext(ctx, s.listQuery)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *plantStore) listByUser(ctx context.Context, userID int) ([]Plant, error) {
	rows, err := s.db.QueryContext(ctx, s.listByUserQuery, userID)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *plantStore) read(ctx context.Context, plantID string) (Plant, error) {
	var p Plant
	err := s.db.QueryRowContext(ctx, s.readQuery, plantID).Scan(p.scanTargets()...)
	if err == csql.ErrNoRows {
		return Plant{}, ErrNotFound
	}
	return p, err
}

func (s *plantStore) create(ctx context.Context, req newPlantRequest) (Plant, error) {
	bloomColor := req.BloomColor
	if bloomColor == nil {
		bloomColor = []string{}
	}
	bloomMonths := req.BloomMonths
	if bloomMonths == nil {
		bloomMonths = []string{}
	}
	var p Plant
	err := s.db.QueryRowContext(ctx, s.insertQuery,
		req.UserID, req.CommonName, req.ScientificName,
		pq.Array(bloomColor), pq.Array(bloomMonths)).Scan(p.scanTargets()...)
	return p, err
}

func (s *plantStore) update(ctx context.Context, plantID string, req updatePlantRequest) (Plant, error) {
	sets, args, err := buildPatch(plantID, []patchField{
		{"common_name", patchString(req.CommonName)},
		{"scientific_name", patchString(req.ScientificName)},
		{"bloom_color", patchStringArray(req.BloomColor)},
		{"bloom_months", patchStringArray(req.BloomMonths)},
	})
	if err != nil {
		return Plant{}, err
	}
	query := s.updatePrefix + sets + " WHERE plant_id = $1 RETURNING " + plantColumns + ";"
	var p Plant
	err = s.db.QueryRowContext(ctx, query, args...).Scan(p.scanTargets()...)
	if err == csql.ErrNoRows {
		return Plant{}, ErrNotFound
	}
	return p, err
}

func (b *Backend) handlePlantRoutes(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("plant routes: /plants POST")
	nillog.Debugln("plant routes: /plants/all GET")
	nillog.Debugln("plant routes: /plants/collection POST")
	nillog.Debugln("plant routes: /plants/{plant_id} GET,PATCH")

	store := newPlantStore(b.db)

	list := func(w http.ResponseWriter, r *http.Request) {
		plants, err := store.listAll(r.Context())
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot list plants")
			http.Error(w, "cannot list plants", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"plants": plants})
	}

	collection := func(w http.ResponseWriter, r *http.Request) {
		var req plantCollectionRequest
		if !b.validateBody(w, r, schemaCollection, &req) {
			return
		}
		plants, err := store.listByUser(r.Context(), req.UserID)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot list plants")
			http.Error(w, "cannot list plants", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"plants": plants})
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		plantID := mux.Vars(r)["plant_id"]
		plant, err := store.read(r.Context(), plantID)
		if err == ErrNotFound {
			http.Error(w, "no such plant", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot read plant")
			http.Error(w, "cannot read plant", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"plant": plant})
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		var req newPlantRequest
		if !b.validateBody(w, r, schemaPlantNew, &req) {
			return
		}
		plant, err := store.create(r.Context(), req)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot create plant")
			http.Error(w, "cannot create plant", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "plant", core.OperationCreate, plant)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"plant": plant})
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		plantID := mux.Vars(r)["plant_id"]
		var req updatePlantRequest
		if !b.validateBody(w, r, schemaPlantUpdate, &req) {
			return
		}
		plant, err := store.update(r.Context(), plantID, req)
		switch {
		case err == ErrEmptyPatch:
			http.Error(w, ErrEmptyPatch.Error(), http.StatusBadRequest)
			return
		case err == ErrNotFound:
			http.Error(w, "no such plant", http.StatusNotFound)
			return
		case err != nil:
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot update plant")
			http.Error(w, "cannot update plant", http.StatusInternalServerError)
			return
		}
		b.notify(r.Context(), "plant", core.OperationUpdate, plant)
		writeJSON(w, http.StatusOK, map[string]interface{}{"plant": plant})
	}

	// the fixed paths must be added before the variable one. OPTIONS goes
	// to the CORS middleware, it never reaches the handlers.
	router.Handle("/plants/all", handlers.CompressHandler(access.EnsureAdmin(list))).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/plants/collection", access.EnsureAuthenticated(collection)).Methods(http.MethodPost, http.MethodOptions)
	router.Handle("/plants", access.EnsureAuthenticated(create)).Methods(http.MethodPost, http.MethodOptions)
	router.Handle("/plants/{plant_id:[0-9]+}", access.EnsureAuthenticated(read)).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/plants/{plant_id:[0-9]+}", access.EnsureAuthenticated(update)).Methods(http.MethodPatch, http.MethodOptions)
}
