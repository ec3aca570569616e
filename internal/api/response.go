package api

import (
	"encoding/json"
	"io"
	"net/http"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/run"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeErr derives the status from the error code.
func writeErr(w http.ResponseWriter, err error) {
	code, message := xerrors.CodeOf(err), err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Detail()
	}
	writeError(w, statusFor(code), code, message)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, run.CodeRunValidation,
		engine.CodeWorkflowInvalid, engine.CodeComponentNotFound, engine.CodeCycleDetected, engine.CodeDuplicateInput:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, run.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, run.CodeRunConflict:
		return http.StatusConflict
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeForbidden:
		return http.StatusForbidden
	case xerrors.CodeUnavailable, xerrors.CodeQueueFailure, run.CodeRunPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
