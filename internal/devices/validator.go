package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/sensor-descriptor-v1.json
var descriptorSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("sensor-descriptor-v1.json",
		strings.NewReader(descriptorSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("sensor-descriptor-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDescriptor checks canonical JSON against the descriptor schema.
func (v *Validator) ValidateDescriptor(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateDefinition runs both the schema and the engine's semantic checks.
func (v *Validator) ValidateDefinition(desc *sensor.Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	if err := v.ValidateDescriptor(data); err != nil {
		return err
	}
	return desc.Validate()
}
