package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeStorageError maps a storage failure onto a status code. Server-side
// failures are logged and their detail withheld from the client.
func writeStorageError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	kind := storageerr.KindOf(err)
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", "kind", kind, "error", err)
		message := "internal server error"
		if kind == storageerr.KindBackendFailure {
			message = "storage backend failure"
		}
		writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
		return
	}

	logger.Debug(op+" rejected", "kind", kind, "error", err)
	message := err.Error()
	var se *storageerr.Error
	if errors.As(err, &se) && se.Message != "" {
		message = se.Message
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}

func statusFor(kind storageerr.Kind) int {
	switch kind {
	case storageerr.KindInvalidArgument, storageerr.KindInvalidPathFormat:
		return http.StatusBadRequest
	case storageerr.KindCredentialsError:
		return http.StatusUnauthorized
	case storageerr.KindEntityNotFound:
		return http.StatusNotFound
	case storageerr.KindInvalidEntityPath:
		return http.StatusConflict
	case storageerr.KindInvalidRevision:
		return http.StatusPreconditionFailed
	case storageerr.KindUnrecognizedStorageType:
		return http.StatusUnprocessableEntity
	case storageerr.KindBackendFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// CreateCredentialRequest is the JSON body for the register credential
// endpoint. Params is decoded according to Variant.
type CreateCredentialRequest struct {
	Variant string          `json:"variant"`
	OwnerID string          `json:"owner_id"`
	Params  json.RawMessage `json:"params"`
}

// IDResponse carries a credential identifier.
type IDResponse struct {
	ID string `json:"id"`
}

// ProvidersResponse lists the registered storage variants.
type ProvidersResponse struct {
	Variants []string `json:"variants"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toProvidersResponse(variants []model.Variant) ProvidersResponse {
	names := make([]string, 0, len(variants))
	for _, v := range variants {
		names = append(names, string(v))
	}
	return ProvidersResponse{Variants: names}
}
