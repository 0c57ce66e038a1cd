package backend

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// patchField is one candidate column assignment for a sparse update. A nil
// value means the caller did not provide the field, and the column keeps
// its stored value.
type patchField struct {
	column string
	value  interface{}
}

// buildPatch assembles the SET clause for a sparse update from the present
// fields, in the order they are passed. The returned arguments start with
// id; the assignments use the placeholders $2 and up, $1 is the target
// identifier in the caller's WHERE clause.
//
// An update without a single present field is ErrEmptyPatch. It must never
// reach the database: without assignments there is no statement to build,
// and silently executing something else against the target row would be
// worse.
func buildPatch(id interface{}, fields []patchField) (string, []interface{}, error) {
	sets := ""
	args := []interface{}{id}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if len(sets) > 0 {
			sets += ", "
		}
		args = append(args, f.value)
		sets += f.column + " = $" + strconv.Itoa(len(args))
	}
	if len(args) == 1 {
		return "", nil, ErrEmptyPatch
	}
	return sets, args, nil
}

// patchString returns the statement argument for an optional string field
func patchString(ptr *string) interface{} {
	if ptr == nil {
		return nil
	}
	return *ptr
}

// patchBool returns the statement argument for an optional boolean field
func patchBool(ptr *bool) interface{} {
	if ptr == nil {
		return nil
	}
	return *ptr
}

// patchJSON returns the statement argument for an optional json field
func patchJSON(raw json.RawMessage) interface{} {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}

// patchStringArray returns the statement argument for an optional array field
func patchStringArray(values []string) interface{} {
	if values == nil {
		return nil
	}
	return pq.Array(values)
}
