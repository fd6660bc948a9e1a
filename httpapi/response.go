package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorBody is the body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

type loginBody struct {
	Success     bool   `json:"success"`
	RequiresMFA bool   `json:"requiresMFA"`
	Message     string `json:"message,omitempty"`
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type sessionBody struct {
	Authenticated bool  `json:"authenticated"`
	MFAVerified   *bool `json:"mfaVerified,omitempty"`
}

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, errorBody{Error: msg})
}
