package api

import (
	"errors"
	"regexp"
)

var collectionRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)

func validateCollection(collection string) error {
	if collection == "" {
		return errors.New("collection cannot be empty")
	}
	if !collectionRegex.MatchString(collection) {
		return errors.New("invalid collection: must be 1-64 characters of a-z, A-Z, 0-9, _, -")
	}
	return nil
}
