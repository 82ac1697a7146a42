package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tjfontaine/carelog/internal/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error *domain.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as {"error":{type,code,message,field}} with the
// status its type maps to. Persistence faults hide their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	de := domain.AsError(err)
	status := de.HTTPStatusCode()
	if status >= 500 && de.Type == domain.ErrorTypePersistence {
		de = domain.NewError(domain.ErrorTypePersistence, "internal error")
	}
	writeJSON(w, status, errorBody{Error: de})
}

// decodeJSON reads a JSON body into dst, rejecting unknown trailing data.
func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return domain.ErrValidation("body", fmt.Sprintf("read body: %v", err))
	}
	if len(body) > maxBodyBytes {
		return domain.ErrValidation("body", "too large")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return domain.ErrValidation(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
		case errors.As(err, &syntax):
			return domain.ErrValidation("body", "invalid JSON")
		default:
			return domain.ErrValidation("body", err.Error())
		}
	}
	return nil
}
