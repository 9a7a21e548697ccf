package app

import (
	"errors"

	"auctionhook/pkg/payload"
	"auctionhook/services/webhook/internal/forwarder"
)

var (
	// ErrInvalidPayload wraps every reason an ingestion body is rejected.
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrMissingSKU       = payload.ErrMissingSKU
	ErrMissingURL       = errors.New("url_main parameter is required")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrInvalidReference = errors.New("scrape_result_id does not reference an existing scrape result")
	ErrNotFound         = errors.New("not found")
	ErrInvalidQuantity  = forwarder.ErrInvalidQuantity

	ErrStorageDisabled  = errors.New("image storage is not configured")
	ErrUnsupportedMedia = errors.New("only image uploads are allowed")
	ErrEmptyUpload      = errors.New("uploaded file is empty")
)
