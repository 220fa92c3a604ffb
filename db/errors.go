package db

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrDuplicateKey is returned by the in-memory store for unique index
// violations.
var ErrDuplicateKey = errors.New("duplicate key")

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	cause := errors.Cause(err)
	if cause == ErrDuplicateKey {
		return true
	}

	if mongo.IsDuplicateKeyError(cause) {
		return true
	}

	return strings.Contains(cause.Error(), "duplicate key")
}

func IsNotFound(err error) bool {
	return errors.Cause(err) == mongo.ErrNoDocuments
}
