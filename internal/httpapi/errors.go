package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"llamacore/internal/manager"
	"llamacore/internal/scheduler"
	"llamacore/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes the shared error envelope.
func writeJSONError(w http.ResponseWriter, status int, errType, msg string) {
	writeEnvelope(w, types.ErrorResponse{Error: types.ErrorBody{Code: status, Message: msg, Type: errType}})
}

func writeEnvelope(w http.ResponseWriter, resp types.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Error.Code)
	_ = json.NewEncoder(w).Encode(resp)
}

// errorResponse maps manager, scheduler and generic errors to an envelope.
func errorResponse(err error) types.ErrorResponse {
	body := func(status int, errType string) types.ErrorResponse {
		return types.ErrorResponse{Error: types.ErrorBody{Code: status, Message: err.Error(), Type: errType}}
	}
	switch {
	case manager.IsModelNotFound(err):
		return body(http.StatusNotFound, "not_found_error")
	case manager.IsTooBusy(err):
		return body(http.StatusTooManyRequests, "unavailable_error")
	case manager.IsBudgetExceeded(err), manager.IsDependencyUnavailable(err), errors.Is(err, context.Canceled):
		return body(http.StatusServiceUnavailable, "unavailable_error")
	case errors.Is(err, context.DeadlineExceeded):
		return body(http.StatusGatewayTimeout, "server_error")
	}
	if e, ok := scheduler.AsError(err); ok {
		return e.Response()
	}
	var he HTTPError
	if errors.As(err, &he) {
		return body(he.StatusCode(), "server_error")
	}
	return body(http.StatusInternalServerError, "server_error")
}

// writeServiceError writes err unless the response has already started.
func writeServiceError(w http.ResponseWriter, err error) int {
	resp := errorResponse(err)
	if resp.Error.Code == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeEnvelope(w, resp)
	return resp.Error.Code
}
