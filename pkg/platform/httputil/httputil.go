package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "clearfund/pkg/domain-errors"
)

// statusByCode maps domain error codes to HTTP statuses. Codes absent from the
// map fall through to 500.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeValidation:         http.StatusBadRequest,
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeInvariantViolation: http.StatusUnprocessableEntity,
	dErrors.CodeInvalidTransition:  http.StatusConflict,
	dErrors.CodeOverfund:           http.StatusUnprocessableEntity,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeIntegrity:          http.StatusConflict,
	dErrors.CodeExpired:            http.StatusGone,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders a coded error as a JSON error response. Internal errors
// omit the description so infrastructure detail never reaches the court-facing
// surface; every other code includes the domain message verbatim.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		code = dErrors.CodeInternal
		status = http.StatusInternalServerError
	}

	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if msg := dErrors.MessageOf(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, status, body)
}
