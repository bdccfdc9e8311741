package handlers

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError emits the error contract: a human-readable detail string plus a
// machine-readable kind.
func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]interface{}{
		"detail": detail,
		"error":  map[string]string{"kind": kind},
	})
}

func writePlainText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}
