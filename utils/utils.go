package utils

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"web3nst/models"
)

var filenameReplacer = strings.NewReplacer(
	"../", "",
	"./", "",
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "_",
)

// SanitizeFilenamePart removes characters that could escape the upload
// directory or break the filesystem when used inside a stored name.
func SanitizeFilenamePart(part string) string {
	return filenameReplacer.Replace(part)
}

// RespondWithJSON encodes data before writing anything, so an encoding
// failure still yields a well formed 500 instead of a truncated body.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to encode %T response", data)
		statusCode = http.StatusInternalServerError
		body = []byte(`{"error":"Internal server error","code":500}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(body, '\n'))
}

// RespondWithError sends an error response with the given status code
func RespondWithError(w http.ResponseWriter, statusCode int, message string, details string) {
	RespondWithJSON(w, statusCode, models.ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Details: details,
	})
}
