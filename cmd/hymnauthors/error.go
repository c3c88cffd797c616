package main

import (
	"github.com/pkg/errors"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

var errorWantedHymnIDs = newUsageError("expected at least one hymn id")
