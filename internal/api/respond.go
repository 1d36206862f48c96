package api

import (
	"encoding/json"
	"net/http"

	"paydrop/internal/logging"
	"paydrop/internal/payment"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.API.Printf("failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeChallenge writes a 402 with the encoded challenge in the protocol
// header and a short JSON body. A 402 is a protocol step, not an error.
func writeChallenge(w http.ResponseWriter, c *payment.Challenge) {
	w.Header().Set(payment.RequiredHeaderName, payment.EncodeChallengeHeader(c))
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":           c.Error,
		"paymentRequired": true,
	})
}
