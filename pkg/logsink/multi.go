package logsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// Multi writes every batch to each sink in order. A failing sink does not
// stop the others; its error is reported after all were tried.
type Multi []logs.Sink

func (m Multi) Write(ctx context.Context, batch []logs.Record) error {
	var errs []error
	for i, sink := range m {
		if err := sink.Write(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, sink, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
