package database

import "errors"

// ErrAlreadyExists is returned when a record already exists
var ErrAlreadyExists = errors.New("record already exists")
