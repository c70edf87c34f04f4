package books

import "errors"

var (
	ErrEmptyTitle       = errors.New("book title is empty")
	ErrNoAuthors        = errors.New("book has no authors")
	ErrImmutableUUID    = errors.New("book uuid cannot be changed")
	ErrDefaultBookshelf = errors.New("the default bookshelf cannot be deleted")
	ErrEmptyName        = errors.New("name is empty")
)
