package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/danthegoodman1/strata/gologger"
	"github.com/danthegoodman1/strata/rvd"
)

var (
	logger = gologger.NewLogger()

	ErrDatasetNotFound = errors.New("dataset not found")
	ErrDatasetExists   = errors.New("dataset already exists")
)

type (
	// MetaStore is the registry of written datasets: their manifests plus
	// where the part files live.
	MetaStore interface {
		// RegisterDataset records a written dataset's manifest
		RegisterDataset(ctx context.Context, d DatasetRecord) error
		GetDataset(ctx context.Context, id string) (DatasetRecord, error)
		GetDatasetByName(ctx context.Context, name string) (DatasetRecord, error)
		ListDatasets(ctx context.Context) ([]DatasetRecord, error)
		DeleteDataset(ctx context.Context, id string) error

		Shutdown(ctx context.Context) error
	}

	DatasetRecord struct {
		ID   string
		Name string
		// Path is the part-store prefix holding the part files and manifest
		Path     string
		Manifest rvd.Manifest
		RowCount *int64

		CreatedAt time.Time
		UpdatedAt time.Time
	}
)
