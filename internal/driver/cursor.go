package driver

import "fmt"

// Cursor is the continuation state of a listing. Each backend owns exactly one
// variant and rejects the others with ErrInvalidCursor.
type Cursor interface {
	backend() string
}

// ServerCursor continues a children listing of the sync server file API.
type ServerCursor struct {
	Token string `json:"token"`
}

func (ServerCursor) backend() string { return "server" }

// S3Cursor continues a ListObjectsV2 scan.
type S3Cursor struct {
	ContinuationToken string `json:"continuationToken"`
}

func (S3Cursor) backend() string { return "s3" }

// CursorAs returns c as the variant T. A nil cursor yields the zero value.
func CursorAs[T Cursor](c Cursor) (T, error) {
	var zero T
	if c == nil {
		return zero, nil
	}
	v, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s cursor, want %s", ErrInvalidCursor, c.backend(), zero.backend())
	}
	return v, nil
}

// EncodeCursor flattens c into a variant tag and its token for persistence.
func EncodeCursor(c Cursor) (kind, token string) {
	switch v := c.(type) {
	case ServerCursor:
		return v.backend(), v.Token
	case S3Cursor:
		return v.backend(), v.ContinuationToken
	}
	return "", ""
}

// DecodeCursor is the inverse of EncodeCursor. An empty kind yields nil.
func DecodeCursor(kind, token string) (Cursor, error) {
	switch kind {
	case "":
		return nil, nil
	case ServerCursor{}.backend():
		return ServerCursor{Token: token}, nil
	case S3Cursor{}.backend():
		return S3Cursor{ContinuationToken: token}, nil
	}
	return nil, fmt.Errorf("%w: unknown cursor kind %q", ErrInvalidCursor, kind)
}
