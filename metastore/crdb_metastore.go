package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danthegoodman1/strata/crdb"
	"github.com/danthegoodman1/strata/rvd"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type (
	CRDBMetaStore struct{}
)

func NewCRDBMetaStore() (*CRDBMetaStore, error) {
	return &CRDBMetaStore{}, nil
}

func (ms *CRDBMetaStore) RegisterDataset(ctx context.Context, d DatasetRecord) error {
	boundsJSON, err := json.Marshal(d.Manifest.RangeBounds)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	err = crdb.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO datasets (id, name, path, row_type, key_fields, partition_key_fields, codec, part_files, range_bounds, row_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, d.ID, d.Name, d.Path, d.Manifest.Type, d.Manifest.Key, d.Manifest.PartitionKey,
			d.Manifest.Codec, d.Manifest.PartFiles, boundsJSON, d.RowCount)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDatasetExists, d.Name)
		}
		return fmt.Errorf("error inserting dataset: %w", err)
	}
	logger.Debug().Str("id", d.ID).Str("name", d.Name).Msg("registered dataset")
	return nil
}

func (ms *CRDBMetaStore) GetDataset(ctx context.Context, id string) (DatasetRecord, error) {
	return ms.getWhere(ctx, "id = $1", id)
}

func (ms *CRDBMetaStore) GetDatasetByName(ctx context.Context, name string) (DatasetRecord, error) {
	return ms.getWhere(ctx, "name = $1", name)
}

func (ms *CRDBMetaStore) getWhere(ctx context.Context, cond string, arg interface{}) (DatasetRecord, error) {
	row := crdb.PGPool.QueryRow(ctx, `
		SELECT id, name, path, row_type, key_fields, partition_key_fields, codec, part_files, range_bounds, row_count, created_at, updated_at
		FROM datasets WHERE `+cond, arg)
	d, err := scanDataset(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return DatasetRecord{}, ErrDatasetNotFound
		}
		return DatasetRecord{}, fmt.Errorf("error scanning dataset: %w", err)
	}
	return d, nil
}

func (ms *CRDBMetaStore) ListDatasets(ctx context.Context) ([]DatasetRecord, error) {
	rows, err := crdb.PGPool.Query(ctx, `
		SELECT id, name, path, row_type, key_fields, partition_key_fields, codec, part_files, range_bounds, row_count, created_at, updated_at
		FROM datasets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error listing datasets: %w", err)
	}
	defer rows.Close()
	var out []DatasetRecord
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (ms *CRDBMetaStore) DeleteDataset(ctx context.Context, id string) error {
	tag, err := crdb.PGPool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDatasetNotFound
	}
	return nil
}

func (ms *CRDBMetaStore) Shutdown(_ context.Context) error {
	return nil
}

func scanDataset(row pgx.Row) (DatasetRecord, error) {
	var (
		d      DatasetRecord
		bounds pgtype.JSONB
	)
	err := row.Scan(&d.ID, &d.Name, &d.Path, &d.Manifest.Type, &d.Manifest.Key,
		&d.Manifest.PartitionKey, &d.Manifest.Codec, &d.Manifest.PartFiles,
		&bounds, &d.RowCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return DatasetRecord{}, err
	}
	var ivs []rvd.ManifestInterval
	if err := json.Unmarshal(bounds.Bytes, &ivs); err != nil {
		return DatasetRecord{}, fmt.Errorf("error decoding range bounds: %w", err)
	}
	d.Manifest.RangeBounds = ivs
	return d, nil
}
