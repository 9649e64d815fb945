package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rustyeddy/tradegate/internal/errs"
)

var validate = validator.New()

// decodeAndValidate decodes raw into a fresh params struct for tool name,
// rejecting unknown fields (spec.md §4.9.2 "extra fields forbidden") and
// then running struct tag validation (type-exact, regex/enum-constrained).
func decodeAndValidate(name string, raw []byte) (any, error) {
	target, ok := paramsFactory(name)
	if !ok {
		return nil, errs.Validationf("UNKNOWN_TOOL", "unknown tool %q", name)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, errs.Validationf("VALIDATION_FAILED", "decode params for %q: %v", name, err)
	}

	if err := validate.Struct(target); err != nil {
		return nil, errs.Validationf("VALIDATION_FAILED", "%s", describeValidationError(err))
	}
	return target, nil
}

func describeValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %q failed %q constraint", fe.Field(), fe.Tag())
}

// rawParamKeys extracts the top-level JSON object keys, used to enforce
// ToolPolicy.ForbiddenParams before schema decoding even runs — a
// forbidden field (like token_id) must never reach a handler even if a
// params struct happens to accept it.
func rawParamKeys(raw []byte) (map[string]struct{}, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Validationf("VALIDATION_FAILED", "params must be a JSON object: %v", err)
	}
	keys := make(map[string]struct{}, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}
	return keys, nil
}
