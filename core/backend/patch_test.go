package backend

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestBuildPatchSingleField(t *testing.T) {
	name := "South Bed"
	sets, args, err := buildPatch("7", []patchField{
		{"name", patchString(&name)},
		{"grid", patchJSON(nil)},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "name = $2", sets)
	assert.Equal(t, []interface{}{"7", "South Bed"}, args)
}

func TestBuildPatchPlaceholderOrder(t *testing.T) {
	username := "gardener"
	isAdmin := true
	location := json.RawMessage(`{"city":"Berlin"}`)
	sets, args, err := buildPatch("gardener", []patchField{
		{"username", patchString(&username)},
		{"password", patchString(nil)},
		{"location", patchJSON(location)},
		{"is_admin", patchBool(&isAdmin)},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "username = $2, location = $3, is_admin = $4", sets)
	assert.Equal(t, []interface{}{"gardener", "gardener", []byte(location), true}, args)
}

func TestBuildPatchEmpty(t *testing.T) {
	_, _, err := buildPatch("7", []patchField{
		{"name", patchString(nil)},
		{"grid", patchJSON(nil)},
		{"bloom_color", patchStringArray(nil)},
		{"is_admin", patchBool(nil)},
	})
	assert.Equal(t, ErrEmptyPatch, err)
}
