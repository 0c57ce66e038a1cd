package trefle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestSearchURL(t *testing.T) {
	a := &API{baseURL: "https://trefle.io", token: "tok"}

	assert.Equal(t,
		"https://trefle.io/api/v1/plants/search?q=sage&filter[flower_color]=purple&filter[bloom_months]=jun%2Cjul&token=tok",
		a.searchURL(searchRequest{Name: "sage", Color: "purple", Months: []string{"jun", "jul"}}))

	// absent filters are omitted, not sent as empty
	assert.Equal(t,
		"https://trefle.io/api/v1/plants/search?q=sage&token=tok",
		a.searchURL(searchRequest{Name: "sage"}))

	assert.Equal(t,
		"https://trefle.io/api/v1/plants/?filter[flower_color]=purple&token=tok",
		a.searchURL(searchRequest{Color: "purple"}))

	assert.Equal(t,
		"https://trefle.io/api/v1/plants/?token=tok",
		a.searchURL(searchRequest{}))
}

func newTestProxy(t *testing.T, upstream http.HandlerFunc, maxRetries int) *mux.Router {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)
	router := mux.NewRouter()
	NewAPI(&Builder{
		Router:     router,
		BaseURL:    server.URL,
		Token:      "tok",
		MaxRetries: maxRetries,
	})
	return router
}

func doLookup(router *mux.Router, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestSearchRelaysUpstream(t *testing.T) {
	var gotURL string
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"common_name":"sage"}]}`))
	}, 0)

	w := doLookup(router, "/plants-lookup/search", `{"name":"sage","color":"purple","months":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	assert.Equal(t, "/api/v1/plants/search?q=sage&filter[flower_color]=purple&token=tok", gotURL)
	assert.Equal(t, `{"data":[{"common_name":"sage"}]}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestSearchRelaysUpstreamStatus(t *testing.T) {
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
	}, 0)

	w := doLookup(router, "/plants-lookup/search", `{"name":"sage"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPageFollowsLink(t *testing.T) {
	var gotURL string
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`{"data":[]}`))
	}, 0)

	w := doLookup(router, "/plants-lookup/page", `{"link":"/api/v1/plants?page=2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	assert.Equal(t, "/api/v1/plants?page=2&token=tok", gotURL)
}

func TestPageRejectsForeignLink(t *testing.T) {
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}, 0)

	w := doLookup(router, "/plants-lookup/page", `{"link":"https://evil.example/steal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpecies(t *testing.T) {
	var gotURL string
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`{"data":{"id":123}}`))
	}, 0)

	// numeric id
	w := doLookup(router, "/plants-lookup/species", `{"species_id":123}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	assert.Equal(t, "/api/v1/species/123?token=tok", gotURL)

	// slug id
	w = doLookup(router, "/plants-lookup/species", `{"species_id":"salvia-officinalis"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	assert.Equal(t, "/api/v1/species/salvia-officinalis?token=tok", gotURL)
}

func TestRetryOnUpstreamFailure(t *testing.T) {
	calls := 0
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}, 2)

	w := doLookup(router, "/plants-lookup/search", `{"name":"sage"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, calls)
}

func TestRetriesDisabled(t *testing.T) {
	calls := 0
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}, -1)

	w := doLookup(router, "/plants-lookup/search", `{"name":"sage"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1, calls)
}

func TestRetriesExhausted(t *testing.T) {
	calls := 0
	router := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}, 2)

	w := doLookup(router, "/plants-lookup/search", `{"name":"sage"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream error\n", w.Body.String())
	assert.Equal(t, 3, calls)
}
