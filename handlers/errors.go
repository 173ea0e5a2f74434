package handlers

import "errors"

var (
	ErrMissingFile     = errors.New("no file uploaded")
	ErrUnexpectedField = errors.New("unexpected field")
)
