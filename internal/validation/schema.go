// Package validation compiles embedded JSON Schemas and reports violations
// as flat "location: message" strings.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

// MustCompile compiles a single schema document. It panics on error and is
// meant for package-level vars built from embedded files.
func MustCompile(name string, raw []byte) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// MustCompileSet compiles a JSON object whose top-level keys each hold one
// schema document. The result is keyed the same way.
func MustCompileSet(raw []byte) map[string]*jsonschema.Schema {
	var docs map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		panic(fmt.Sprintf("failed to parse embedded schema set: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	for name, doc := range docs {
		if err := compiler.AddResource(name+".json", doc); err != nil {
			panic(fmt.Sprintf("failed to add %s schema: %v", name, err))
		}
	}

	out := make(map[string]*jsonschema.Schema, len(docs))
	for name := range docs {
		sch, err := compiler.Compile(name + ".json")
		if err != nil {
			panic(fmt.Sprintf("failed to compile %s schema: %v", name, err))
		}
		out[name] = sch
	}
	return out
}

// Validate checks an already-decoded JSON value against schema. It returns
// nil when the value conforms.
func Validate(schema *jsonschema.Schema, instance any) []string {
	err := schema.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

// ValidateYAML parses data as YAML and validates the document against
// schema.
func ValidateYAML(schema *jsonschema.Schema, data []byte) []string {
	var yamlDoc any
	if err := yaml.Unmarshal(data, &yamlDoc); err != nil {
		return []string{fmt.Sprintf("YAML parse error: %v", err)}
	}
	return Validate(schema, convertToJSONCompatible(yamlDoc))
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}

// convertToJSONCompatible converts YAML-decoded values to JSON-compatible types.
// yaml.v3 decodes mappings with non-string keys to map[any]any, which the
// validator cannot walk.
func convertToJSONCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v2 := range val {
			result[k] = convertToJSONCompatible(v2)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(val))
		for k, v2 := range val {
			result[fmt.Sprint(k)] = convertToJSONCompatible(v2)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v2 := range val {
			result[i] = convertToJSONCompatible(v2)
		}
		return result
	default:
		return val
	}
}
