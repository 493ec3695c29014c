package apperr

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// StructuralError reports a document whose byte stream cannot be
// processed at all (invalid encoding). Malformed front matter is NOT a
// StructuralError at the parser boundary: it degrades to an absent
// metadata block and a recorded diagnostic.
type StructuralError struct {
	Path   string
	Detail string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in %s: %s", e.Path, e.Detail)
}
