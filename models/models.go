package models

import "time"

// UploadedFile describes one received file once it has been written to disk.
// It is never mutated after the write.
type UploadedFile struct {
	FieldName        string    `json:"fieldName"`
	OriginalFilename string    `json:"originalFilename"`
	Extension        string    `json:"extension"`
	StoredName       string    `json:"storedName"`
	Path             string    `json:"path"`
	Size             int64     `json:"size"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

// UploadResponse is the JSON body returned when the endpoint runs in json mode
type UploadResponse struct {
	Message  string `json:"message"`
	FilePath string `json:"filePath"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}
