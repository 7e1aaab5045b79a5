package tools

import (
	"fmt"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
)

// validateArgs checks args against an adapter's declared input schema:
// required fields present, declared types respected, enum membership and
// numeric range constraints satisfied. The returned error names the field
// and the reason so the client message is actionable.
func validateArgs(schema mcp.ToolInputSchema, args map[string]interface{}) error {
	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("%s is required", field)
		}
	}

	for field, value := range args {
		raw, ok := schema.Properties[field]
		if !ok {
			// Unknown fields are tolerated; adapters ignore what they
			// did not declare.
			continue
		}
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if err := validateProperty(field, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(field string, prop map[string]interface{}, value interface{}) error {
	if typ, ok := prop["type"].(string); ok {
		if err := checkType(field, typ, value); err != nil {
			return err
		}
	}

	if enum, ok := prop["enum"].([]interface{}); ok {
		found := false
		for _, allowed := range enum {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s must be one of %v", field, enum)
		}
	}

	// Range constraints apply to numbers; JSON numbers arrive as float64.
	if num, ok := toFloat(value); ok {
		if min, ok := toFloat(prop["minimum"]); ok && num < min {
			return fmt.Errorf("%s must be >= %v", field, min)
		}
		if max, ok := toFloat(prop["maximum"]); ok && num > max {
			return fmt.Errorf("%s must be <= %v", field, max)
		}
	}
	return nil
}

func checkType(field, typ string, value interface{}) error {
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s must be a string", field)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", field)
		}
	case "number":
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("%s must be a number", field)
		}
	case "integer":
		num, ok := toFloat(value)
		if !ok || num != float64(int64(num)) {
			return fmt.Errorf("%s must be an integer", field)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("%s must be an array", field)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("%s must be an object", field)
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
