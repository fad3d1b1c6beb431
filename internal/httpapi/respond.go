package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mergeci/controlplane/internal/apierr"
	"github.com/mergeci/controlplane/internal/logging"
)

var log = logging.NewFromEnv("httpapi")

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("encode response body")
	}
}

// writeError maps err to its HTTP status via apierr and writes a uniform
// {"error": {...}} body, logging internal (5xx) errors with full context.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.StatusFor(err)
	message := err.Error()
	var fields map[string]string
	if apiErr, ok := apierr.As(err); ok {
		message = apiErr.Message
		fields = apiErr.Fields
	}

	entry := log.WithContext(r.Context())
	if status >= 500 {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithField("status", status).Warn("request rejected")
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"fields":  fields,
		},
	})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apierr.Validation("invalid request body: " + err.Error())
	}
	return nil
}
