package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaID = "https://github.com/ormasoftchile/recipe/schemas/config.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document for
// Config.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Config{})
	s.ID = jsonschema.ID(schemaID)
	s.Title = "Recipe runner configuration"
	s.Description = "Schema for recipe.yaml / recipe.toml"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// validateSchema returns one message per schema violation in c.
func validateSchema(c *Config) ([]string, error) {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	comp := sjsonschema.NewCompiler()
	if err := comp.AddResource(schemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := comp.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return nil, err
	}
	var out []string
	for _, cause := range flatten(ve) {
		path := strings.Join(cause.InstanceLocation, ".")
		if path == "" {
			path = "(root)"
		}
		out = append(out, fmt.Sprintf("%s: %v", path, cause.ErrorKind))
	}
	return out, nil
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}
