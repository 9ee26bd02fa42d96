package rvd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/interval"
	"github.com/danthegoodman1/strata/partstore"
	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/rowio"
	"github.com/danthegoodman1/strata/types"
	"github.com/go-playground/validator/v10"
)

const ManifestFileName = "manifest.json"

type (
	// Manifest is the persisted partition-set descriptor: the row type
	// descriptor with required flags, the codec, the ordered part file
	// list (partition index is list index), and the range bounds.
	Manifest struct {
		Type         string             `json:"type" validate:"required"`
		Key          []string           `json:"key" validate:"required,min=1"`
		PartitionKey []string           `json:"partitionKey" validate:"required,min=1"`
		Codec        string             `json:"codec" validate:"required"`
		PartFiles    []string           `json:"partFiles" validate:"required,min=1"`
		RangeBounds  []ManifestInterval `json:"rangeBounds" validate:"required,min=1"`
	}

	ManifestInterval struct {
		Start        interface{} `json:"start"`
		End          interface{} `json:"end"`
		IncludeStart bool        `json:"includeStart"`
		IncludeEnd   bool        `json:"includeEnd"`
	}
)

var validate = validator.New()

// Write serializes each partition to a file named by its index and commits
// a manifest recording type, codec, file list and range bounds. The
// manifest is written last.
func (rvd *OrderedRVD) Write(ctx context.Context, rt exec.Runtime, store partstore.PartStore, path string) (*Manifest, error) {
	typ := rvd.Typ
	partFiles := make([]string, rvd.RDD.NumPartitions)
	err := rt.ForeachPartition(ctx, rvd.RDD, func(part int, it exec.RVIter) error {
		var buf bytes.Buffer
		enc := rowio.NewEncoder(&buf, typ.RowType)
		for it.Next() {
			if err := enc.Encode(it.Value()); err != nil {
				return fmt.Errorf("error encoding row: %w", err)
			}
		}
		if err := it.Err(); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("error closing encoder: %w", err)
		}
		name := partFileName(part)
		if err := store.WriteFile(ctx, path, name, &buf); err != nil {
			return fmt.Errorf("error writing part file %s: %w", name, err)
		}
		partFiles[part] = name
		return nil
	})
	if err != nil {
		return nil, err
	}

	pkT := rvd.Partitioner.PKType
	bounds := make([]ManifestInterval, len(rvd.Partitioner.RangeBounds))
	for i, b := range rvd.Partitioner.RangeBounds {
		bounds[i] = ManifestInterval{
			Start:        types.ExportJSON(pkT, types.Annotation(b.Start)),
			End:          types.ExportJSON(pkT, types.Annotation(b.End)),
			IncludeStart: b.IncludesStart,
			IncludeEnd:   b.IncludesEnd,
		}
	}
	m := &Manifest{
		Type:         typ.RowType.String(),
		Key:          typ.Key,
		PartitionKey: typ.PartitionKey,
		Codec:        rowio.CodecSnappy,
		PartFiles:    partFiles,
		RangeBounds:  bounds,
	}
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error in json.Marshal: %w", err)
	}
	if err := store.WriteFile(ctx, path, ManifestFileName, bytes.NewReader(mb)); err != nil {
		return nil, fmt.Errorf("error writing manifest: %w", err)
	}
	logger.Debug().Str("path", path).Int("partitions", len(partFiles)).Msg("wrote dataset")
	return m, nil
}

func partFileName(part int) string {
	return fmt.Sprintf("part-%05d", part)
}

// Read restores a written dataset. Partition files are opened lazily as
// partitions are computed.
func Read(ctx context.Context, store partstore.PartStore, path string) (*OrderedRVD, error) {
	rc, err := store.ReadFile(ctx, path, ManifestFileName)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	defer rc.Close()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("error decoding manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if !rowio.ValidCodec(m.Codec) {
		return nil, fmt.Errorf("unknown codec %q", m.Codec)
	}
	rowT, err := types.Parse(m.Type)
	if err != nil {
		return nil, fmt.Errorf("error parsing row type: %w", err)
	}
	rowStruct, ok := rowT.(*types.TStruct)
	if !ok {
		return nil, fmt.Errorf("manifest type is not a struct: %s", m.Type)
	}
	typ, err := NewOrderedRVDType(rowStruct, m.Key, m.PartitionKey)
	if err != nil {
		return nil, err
	}
	pkT := typ.PKType()
	im := types.NewJSONImporter()
	bounds := make([]interval.Interval, len(m.RangeBounds))
	for i, b := range m.RangeBounds {
		start, err := im.Import(pkT, b.Start)
		if err != nil {
			return nil, fmt.Errorf("error importing bound %d start: %w", i, err)
		}
		end, err := im.Import(pkT, b.End)
		if err != nil {
			return nil, fmt.Errorf("error importing bound %d end: %w", i, err)
		}
		bounds[i] = interval.New(toRow(start), toRow(end), b.IncludeStart, b.IncludeEnd)
	}
	partitioner, err := NewOrderedPartitioner(pkT, bounds)
	if err != nil {
		return nil, err
	}
	files := m.PartFiles
	rdd := exec.NewRDD(len(files), func(ctx context.Context, part int, _ *exec.PartitionContext) exec.RVIter {
		var dec *rowio.Decoder
		var rc2 interface{ Close() error }
		return exec.NewFuncIter(func() (region.RegionValue, bool, error) {
			if dec == nil {
				f, err := store.ReadFile(ctx, path, files[part])
				if err != nil {
					return region.RegionValue{}, false, fmt.Errorf("error opening part file %s: %w", files[part], err)
				}
				rc2 = f
				dec = rowio.NewDecoder(f, typ.RowType)
			}
			rv, err := dec.Decode()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return region.RegionValue{}, false, nil
				}
				return region.RegionValue{}, false, err
			}
			return rv, true, nil
		}, func() {
			if rc2 != nil {
				rc2.Close()
			}
		})
	})
	return New(typ, partitioner, rdd)
}

func toRow(a types.Annotation) types.Row {
	if a == nil {
		return nil
	}
	return a.(types.Row)
}
