/*Package trefle proxies plant lookups to the trefle.io botanical database.

The frontend never talks to trefle directly, the proxy attaches the service
token and relays the remote response verbatim. No entity storage is
involved.
*/
package trefle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core/logger"
)

// API is the plant lookup proxy
type API struct {
	baseURL    string
	token      string
	client     *http.Client
	maxRetries int
}

// Builder is a builder helper for the API
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// BaseURL is the remote service, usually https://trefle.io. This is
	// mandatory.
	BaseURL string
	// Token is the trefle service credential. This is mandatory.
	Token string
	// Client is the http client for outbound calls. Optional, defaults to
	// a client with a 10 second timeout.
	Client *http.Client
	// MaxRetries is the number of retries after a failed remote call.
	// Optional, 0 selects the default of 2; pass a negative value to
	// disable retries.
	MaxRetries int
}

// NewAPI realizes the lookup proxy and adds its routes to the router
func NewAPI(bb *Builder) *API {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if len(bb.BaseURL) == 0 {
		panic("BaseURL is missing")
	}
	client := bb.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	maxRetries := bb.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	} else if maxRetries < 0 {
		maxRetries = 0
	}
	a := &API{
		baseURL:    strings.TrimSuffix(bb.BaseURL, "/"),
		token:      bb.Token,
		client:     client,
		maxRetries: maxRetries,
	}
	a.addRoutes(bb.Router)
	return a
}

type searchRequest struct {
	Name   string   `json:"name"`
	Color  string   `json:"color"`
	Months []string `json:"months"`
}

type pageRequest struct {
	Link string `json:"link"`
}

type speciesRequest struct {
	SpeciesID json.RawMessage `json:"species_id"`
}

// searchURL builds the remote query. Absent filters are omitted entirely,
// an empty filter parameter changes the remote result.
func (a *API) searchURL(req searchRequest) string {
	urlString := a.baseURL + "/api/v1/plants/"
	if len(req.Name) > 0 {
		urlString += "search?q=" + url.QueryEscape(req.Name) + "&"
	} else {
		urlString += "?"
	}
	if len(req.Color) > 0 {
		urlString += "filter[flower_color]=" + url.QueryEscape(req.Color) + "&"
	}
	if len(req.Months) > 0 {
		urlString += "filter[bloom_months]=" + url.QueryEscape(strings.Join(req.Months, ",")) + "&"
	}
	return urlString + "token=" + url.QueryEscape(a.token)
}

// get performs the remote call with a bounded number of retries. Network
// failures and remote 5xx are retried, anything else is returned as is.
func (a *API) get(ctx context.Context, urlString string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlString, nil)
		if err != nil {
			return nil, err
		}
		response, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if response.StatusCode >= http.StatusInternalServerError {
			lastErr = errors.New(response.Status)
			response.Body.Close()
			continue
		}
		return response, nil
	}
	return nil, lastErr
}

// relay forwards the remote call for urlString and relays body and status
// verbatim. Exhausted retries surface as 502.
func (a *API) relay(w http.ResponseWriter, r *http.Request, urlString string) {
	response, err := a.get(r.Context(), urlString)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("upstream error")
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer response.Body.Close()
	if contentType := response.Header.Get("Content-Type"); len(contentType) > 0 {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(response.StatusCode)
	io.Copy(w, response.Body)
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, request interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, request); err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) addRoutes(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("lookup routes: /plants-lookup/search POST")
	nillog.Debugln("lookup routes: /plants-lookup/page POST")
	nillog.Debugln("lookup routes: /plants-lookup/species POST")

	search := func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		a.relay(w, r, a.searchURL(req))
	}

	page := func(w http.ResponseWriter, r *http.Request) {
		var req pageRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		// the link comes from a previous trefle response and must be a
		// path on the same service
		if !strings.HasPrefix(req.Link, "/") {
			http.Error(w, "invalid pagination link", http.StatusBadRequest)
			return
		}
		separator := "?"
		if strings.Contains(req.Link, "?") {
			separator = "&"
		}
		a.relay(w, r, a.baseURL+req.Link+separator+"token="+url.QueryEscape(a.token))
	}

	species := func(w http.ResponseWriter, r *http.Request) {
		var req speciesRequest
		if !a.decodeBody(w, r, &req) {
			return
		}
		// the id may arrive as a number or as a slug string
		speciesID := strings.Trim(string(req.SpeciesID), `"`)
		if len(speciesID) == 0 {
			http.Error(w, "species_id is missing", http.StatusBadRequest)
			return
		}
		a.relay(w, r, a.baseURL+"/api/v1/species/"+url.PathEscape(speciesID)+"?token="+url.QueryEscape(a.token))
	}

	// OPTIONS is registered so the router's CORS middleware can answer
	// preflight requests
	router.HandleFunc("/plants-lookup/search", search).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/plants-lookup/page", page).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/plants-lookup/species", species).Methods(http.MethodPost, http.MethodOptions)
}
