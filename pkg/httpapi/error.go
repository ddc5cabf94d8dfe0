package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
)

// ErrorEnvelope standardizes JSON error output.
type ErrorEnvelope struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// FromError renders err. Master errors keep their status and code; anything
// else is an internal error.
func FromError(err error) *ErrorEnvelope {
	var be *bitemporal.Error
	if !errors.As(err, &be) {
		return &ErrorEnvelope{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: err.Error()}
	}
	env := &ErrorEnvelope{Status: be.Status, Code: be.Code, Message: be.Error()}
	if be.Kind != nil {
		env.Meta = map[string]string{"kind": be.Kind.Error()}
	}
	return env
}

func WriteJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func WriteError(w io.Writer, err error) error {
	return WriteJSON(w, map[string]*ErrorEnvelope{"error": FromError(err)})
}
