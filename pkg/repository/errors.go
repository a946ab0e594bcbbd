package repository

import (
	"errors"

	"github.com/ammar0144/storekit/pkg/criteria"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned by FindOrFail. It also matches
	// gorm.ErrRecordNotFound.
	ErrNotFound = errors.New("entity not found")

	// ErrConfiguration is returned by New for unusable entity types or
	// settings
	ErrConfiguration = errors.New("invalid repository configuration")

	ErrInvalidCriteria = criteria.ErrInvalidCriteria
	ErrInvalidField    = criteria.ErrInvalidField
	ErrUnknownRelation = criteria.ErrUnknownRelation
)

// IsNotFound reports whether err means no row matched
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// IsConfiguration checks if error is ErrConfiguration
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
