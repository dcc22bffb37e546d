package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// executeSchema accepts the canonical argument list: an array of flat objects. Elements that
// carry several keys are allowed; nested values are not.
const executeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "inArguments": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
      }
    },
    "definitionInstanceId": {"type": "string"},
    "activityInstanceId": {"type": "string"},
    "keyValue": {"type": ["string", "number"]}
  }
}`

var executeSchemaLoader = gojsonschema.NewStringLoader(executeSchema)

func compileExecuteSchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(executeSchemaLoader)
}

// validateExecuteBody reports the first schema violations as a single message.
func validateExecuteBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
