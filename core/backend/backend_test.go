package backend

import (
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/csql"
)

// newTestBackend creates a backend on a mocked database. The relation
// bootstrap is the first statement the backend executes.
func newTestBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("cannot create mock database: %s", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))

	b := New(&Builder{
		DB:         csql.NewWithSchema(db, "gardenbase"),
		Router:     mux.NewRouter(),
		SecretKey:  "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	return b, mock
}

func tokenFor(t *testing.T, b *Backend, username string, isAdmin bool) string {
	t.Helper()
	token, err := b.issuer.Create(access.Authorization{Username: username, IsAdmin: isAdmin})
	if err != nil {
		t.Fatalf("cannot create token: %s", err)
	}
	return token
}

func doRequest(b *Backend, method, path, token, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if len(token) > 0 {
		r.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, r)
	return w
}

func expectationsWereMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled database expectations: %s", err)
	}
}
