package source

import (
	"context"
	"fmt"

	"github.com/rizzling/toshiwatcher/internal/model"
)

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Event, error)
}

// FetchError wraps any failure to obtain a batch: transport, HTTP status,
// decoding or GraphQL errors.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Source, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }
