// Package verify checks that an export left objects at its destination. The
// check is diagnostic only: its findings never fail an operation.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/rsbulk/internal/storage"
)

const DefaultMaxKeys = 10

// Warning is attached to a successful export when its artifacts could not be
// confirmed.
type Warning struct {
	Destination string
	Reason      string
	Err         error
}

func (w *Warning) Error() string {
	if w.Err != nil {
		return fmt.Sprintf("verify %s: %s: %v", w.Destination, w.Reason, w.Err)
	}
	return fmt.Sprintf("verify %s: %s", w.Destination, w.Reason)
}

func (w *Warning) Unwrap() error {
	return w.Err
}

type Result struct {
	Found       bool
	SampleKeys  []string
	ObjectCount int
	TotalBytes  int64
	Warning     *Warning
}

type Verifier struct {
	Lister  storage.Lister
	MaxKeys int
	Logger  *slog.Logger
}

func (v *Verifier) Verify(ctx context.Context, destinationURI string) Result {
	if v.Lister == nil {
		return warn(destinationURI, "no object lister configured", nil)
	}
	bucket, prefix, err := storage.ParseURI(destinationURI)
	if err != nil {
		return warn(destinationURI, "destination is not an object uri", err)
	}
	maxKeys := v.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	objects, err := v.Lister.List(ctx, bucket, prefix, maxKeys)
	if err != nil {
		v.log(ctx, "export verification could not list destination", destinationURI, slog.Any("error", err))
		return warn(destinationURI, "listing failed", err)
	}
	if len(objects) == 0 {
		v.log(ctx, "export verification found no objects", destinationURI)
		return warn(destinationURI, "no objects found", nil)
	}

	result := Result{Found: true, ObjectCount: len(objects)}
	for _, obj := range objects {
		result.SampleKeys = append(result.SampleKeys, obj.Key)
		result.TotalBytes += obj.Size
	}
	return result
}

func (v *Verifier) log(ctx context.Context, msg, destination string, attrs ...any) {
	if v.Logger == nil {
		return
	}
	v.Logger.WarnContext(ctx, msg, append([]any{slog.String("destination", destination)}, attrs...)...)
}

func warn(destination, reason string, err error) Result {
	return Result{Warning: &Warning{Destination: destination, Reason: reason, Err: err}}
}
