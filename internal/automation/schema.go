package automation

import (
	"encoding/json"
	"fmt"

	_ "embed"

	"github.com/xeipuuv/gojsonschema"
)

// workerResultSchema pins the worker's stdout contract: success boolean,
// screenshots array, steps array. Violations are protocol errors regardless
// of the worker's exit code.
//
//go:embed worker_result.schema.json
var workerResultSchema []byte

// ValidateWorkerResult checks a raw worker result document against the
// result schema and returns a ProtocolError describing the first violation.
func ValidateWorkerResult(document json.RawMessage) error {
	schemaLoader := gojsonschema.NewBytesLoader(workerResultSchema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &ProtocolError{Message: "unexpected output shape", Cause: err}
	}
	if !result.Valid() {
		detail := "unexpected output shape"
		if errs := result.Errors(); len(errs) > 0 {
			detail = fmt.Sprintf("unexpected output shape: %s", errs[0].String())
		}
		return &ProtocolError{Message: detail}
	}
	return nil
}
