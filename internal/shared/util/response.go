package util

import (
	"encoding/json"
	"net/http"

	"service-dispatch/internal/shared/apperrors"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ResponseInJson(w http.ResponseWriter, statusCode int, object interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: object})
}

// ErrResponseInJson writes the failure envelope with the status matching err.
func ErrResponseInJson(w http.ResponseWriter, err error) {
	WriteJSONError(w, apperrors.PublicMessage(err), apperrors.CheckError(err))
}

func WriteJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}
