package schema_test

import (
	"testing"

	"github.com/relabs-tech/gardenbase/core/schema"
)

const (
	schemaShort = `
	{ "$id" : "urn:test:short",
	  "type" : "string",
	  "maxLength" : 5
	}`
	schemaLong = `
	{ "$id" : "urn:test:long",
	  "type": "string", "minLength": 10
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{schemaShort, schemaLong})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	jsonShortString := `"short"`
	jsonLongString := `"a very long string"`

	if err := v.ValidateString(jsonShortString, "urn:test:short"); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonShortString, "urn:test:short", err)
	}
	if err := v.ValidateString(jsonLongString, "urn:test:short"); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", jsonLongString, "urn:test:short")
	}
	if err := v.ValidateString(jsonLongString, "urn:test:long"); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonLongString, "urn:test:long", err)
	}
	if err := v.ValidateString(jsonShortString, "urn:test:missing"); err == nil {
		t.Fatal("validation against an unknown schema must fail")
	}
}

func TestValidatorRejectsSchemaWithoutID(t *testing.T) {
	if _, err := schema.NewValidator([]string{`{"type":"string"}`}); err == nil {
		t.Fatal("schema without $id accepted")
	}
}

func TestHasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{schemaShort})
	if err != nil {
		t.Fatal(err)
	}
	if !v.HasSchema("urn:test:short") {
		t.Fatal("known schema not found")
	}
	if v.HasSchema("urn:test:long") {
		t.Fatal("unknown schema found")
	}
}
