package matching

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/getmockd/interceptd/pkg/request"
)

var schemaCache sync.Map // canonical schema JSON -> *jsonschema.Schema

// MatchSchema validates the JSON body against a JSON Schema document. The
// schema may be given as a JSON string, raw bytes or a decoded value. A body
// that is not JSON or fails validation does not match; only schema
// compilation problems are returned as errors.
func MatchSchema(schema any, body request.Body) (bool, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return false, err
	}
	if body.Kind != request.KindJSON {
		return false, nil
	}
	if err := compiled.Validate(body.JSON); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return false, nil
		}
		return false, fmt.Errorf("validating body: %w", err)
	}
	return true, nil
}

func compileSchema(schema any) (*jsonschema.Schema, error) {
	var data []byte
	switch s := schema.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	default:
		b, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		data = b
	}

	key := string(data)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
