package db

import "errors"

// ErrNotFound is returned by updates that target a row which does not exist.
// Lookups return nil, nil instead.
var ErrNotFound = errors.New("not found")
