package partstore

import (
	"context"
	"io"

	"github.com/danthegoodman1/strata/gologger"
)

var (
	logger = gologger.NewLogger()
)

type (
	// PartStore reads and writes a dataset's partition files and manifest
	// under a path prefix. Writers are expected to write every part file
	// before the manifest so a manifest's presence implies a complete
	// dataset.
	PartStore interface {
		// WriteFile creates or replaces a file under path
		WriteFile(ctx context.Context, path, name string, r io.Reader) error
		// ReadFile opens a file for reading
		ReadFile(ctx context.Context, path, name string) (io.ReadCloser, error)
		// List returns the file names under path
		List(ctx context.Context, path string) ([]string, error)

		Shutdown(ctx context.Context) error
	}
)
