package llmprovider

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema compiles InputSchema on first use and caches the result.
func (d *ToolDefinition) compiledSchema() (*jsonschema.Schema, error) {
	d.schemaOnce.Do(func() {
		if d.InputSchema == nil {
			return
		}
		// Round-trip through JSON so Go-typed literals ([]string, int) become
		// the generic shapes the compiler expects.
		raw, err := json.Marshal(d.InputSchema)
		if err != nil {
			d.schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			d.schemaErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		url := d.Name + ".schema.json"
		if err := c.AddResource(url, doc); err != nil {
			d.schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		d.schema, d.schemaErr = c.Compile(url)
	})
	return d.schema, d.schemaErr
}

// ValidateInput checks parsed arguments against InputSchema.
// A definition without a schema accepts any input.
func (d *ToolDefinition) ValidateInput(input map[string]any) error {
	schema, err := d.compiledSchema()
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", d.Name, err)
	}
	if schema == nil {
		return nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
	}
	return nil
}
