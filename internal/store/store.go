// Package store implements the durable collaborators of the realtime core:
// the message log and the user/presence columns, over database/sql.
package store

import (
	"database/sql"
	"errors"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}
