package services

import "errors"

var (
	// ErrCatalogLoading signals a catalog fetch while one is in flight.
	ErrCatalogLoading = errors.New("catalog fetch already in progress")

	// ErrUnknownProduct signals a product id outside the static catalog.
	ErrUnknownProduct = errors.New("unknown product id")

	// ErrInvalidAmount signals a non-positive credit amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)
