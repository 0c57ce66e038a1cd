package backend

import (
	"net/http"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/gardenbase/core/csql"
)

func TestCreateGarden(t *testing.T) {
	b, mock := newTestBackend(t)
	token := tokenFor(t, b, "gardener", false)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO gardenbase.gardens (user_id, name, grid)")).
		WithArgs(5, "Garden Three", []byte("[]")).
		WillReturnRows(sqlmock.NewRows([]string{"garden_id", "user_id", "name", "grid"}).
			AddRow(3, 5, "Garden Three", []byte("[]")))

	w := doRequest(b, http.MethodPost, "/gardens", token,
		`{"user_id":5,"name":"Garden Three","grid":[]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var response struct {
		Garden Garden `json:"garden"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Garden.GardenID != 3 || response.Garden.UserID != 5 ||
		response.Garden.Name != "Garden Three" || string(response.Garden.Grid) != "[]" {
		t.Fatalf("unexpected garden: %+v", response.Garden)
	}
	expectationsWereMet(t, mock)
}

func TestCreateGardenRequiresToken(t *testing.T) {
	b, mock := newTestBackend(t)

	w := doRequest(b, http.MethodPost, "/gardens", "",
		`{"user_id":5,"name":"Garden Three","grid":[]}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	expectationsWereMet(t, mock)
}

func TestUpdateGardenNameOnly(t *testing.T) {
	b, mock := newTestBackend(t)
	token := tokenFor(t, b, "gardener", false)

	// the grid is not part of the statement and keeps its stored value
	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE gardenbase.gardens SET name = $2 WHERE garden_id = $1 RETURNING garden_id, user_id, name, grid;")).
		WithArgs("3", "South Bed").
		WillReturnRows(sqlmock.NewRows([]string{"garden_id", "user_id", "name", "grid"}).
			AddRow(3, 5, "South Bed", []byte(`[["tomato"]]`)))

	w := doRequest(b, http.MethodPatch, "/gardens/3", token, `{"name":"South Bed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var response struct {
		Garden Garden `json:"garden"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if response.Garden.Name != "South Bed" || string(response.Garden.Grid) != `[["tomato"]]` {
		t.Fatalf("unexpected garden: %+v", response.Garden)
	}
	expectationsWereMet(t, mock)
}

func TestUpdateGardenMissing(t *testing.T) {
	b, mock := newTestBackend(t)
	token := tokenFor(t, b, "gardener", false)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE gardenbase.gardens SET name = $2")).
		WithArgs("77", "South Bed").
		WillReturnError(csql.ErrNoRows)

	w := doRequest(b, http.MethodPatch, "/gardens/77", token, `{"name":"South Bed"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	expectationsWereMet(t, mock)
}

func TestReadGardenMissing(t *testing.T) {
	b, mock := newTestBackend(t)
	token := tokenFor(t, b, "gardener", false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT garden_id, user_id, name, grid FROM gardenbase.gardens WHERE garden_id = $1;")).
		WithArgs("77").
		WillReturnError(csql.ErrNoRows)

	w := doRequest(b, http.MethodGet, "/gardens/77", token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	expectationsWereMet(t, mock)
}

func TestListAllGardensRequiresAdmin(t *testing.T) {
	b, mock := newTestBackend(t)

	w := doRequest(b, http.MethodGet, "/gardens/all", tokenFor(t, b, "gardener", false), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT garden_id, user_id, name, grid FROM gardenbase.gardens ORDER BY garden_id;")).
		WillReturnRows(sqlmock.NewRows([]string{"garden_id", "user_id", "name", "grid"}).
			AddRow(1, 5, "Garden One", []byte("[]")))
	w = doRequest(b, http.MethodGet, "/gardens/all", tokenFor(t, b, "admin", true), "")
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	expectationsWereMet(t, mock)
}

func TestGardenCollection(t *testing.T) {
	b, mock := newTestBackend(t)
	token := tokenFor(t, b, "gardener", false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT garden_id, user_id, name, grid FROM gardenbase.gardens WHERE user_id = $1 ORDER BY garden_id;")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"garden_id", "user_id", "name", "grid"}).
			AddRow(1, 5, "Garden One", []byte("[]")).
			AddRow(2, 5, "Garden Two", []byte("[]")))

	w := doRequest(b, http.MethodPost, "/gardens/collection", token, `{"user_id":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var response struct {
		Gardens []Garden `json:"gardens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if len(response.Gardens) != 2 {
		t.Fatalf("expected 2 gardens, got %d", len(response.Gardens))
	}
	expectationsWereMet(t, mock)
}
