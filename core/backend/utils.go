package backend

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// maxBodySize limits request bodies; the largest legitimate payload is a
// garden grid, which stays far below this.
const maxBodySize = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, errors.New("cannot read request body")
	}
	if len(body) > maxBodySize {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, object interface{}) {
	jsonData, _ := json.Marshal(object)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonData)
}
