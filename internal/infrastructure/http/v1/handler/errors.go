package handler

import "errors"

var (
	ErrFailedToDecodeRequestBody = errors.New("failed to decode request body")
	ErrInvalidID                 = errors.New("id should be integer")
)
