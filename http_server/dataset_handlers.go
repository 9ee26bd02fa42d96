package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/metastore"
	"github.com/danthegoodman1/strata/rvd"
	"github.com/danthegoodman1/strata/types"
	"github.com/danthegoodman1/strata/utils"
)

type (
	ImportDatasetReqBody struct {
		Name string `validate:"required"`
		// RowType is the type descriptor of a row, e.g.
		// Struct{contig:String,pos:Int32,val:Float64}
		RowType      string   `validate:"required"`
		Key          []string `validate:"required,min=1"`
		PartitionKey []string `validate:"required,min=1"`
		// NumPartitions for the initial distribution before coercion
		NumPartitions int
		// Flatten collapses nested JSON objects into dotted column names
		// before typing rows
		Flatten bool

		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON rows
		Rows []map[string]interface{}
	}

	ImportStats struct {
		DatasetID  string
		NumRows    int64
		Partitions int
		TimeMS     int64
	}
)

var (
	ErrNotFlatMap = errors.New("not a flat map")
)

func (s *HTTPServer) ListDatasets(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()
	datasets, err := s.MetaStore.ListDatasets(ctx)
	if err != nil {
		return c.InternalError(err, "error listing datasets")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(datasets))
}

func (s *HTTPServer) GetDataset(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()
	d, err := s.MetaStore.GetDataset(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, metastore.ErrDatasetNotFound) {
			return c.String(http.StatusNotFound, "dataset not found")
		}
		return c.InternalError(err, "error getting dataset")
	}
	return c.JSON(http.StatusOK, d)
}

func (s *HTTPServer) ImportDataset(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	start := time.Now()

	var reqBody ImportDatasetReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}
	defer c.Request().Body.Close()

	rowT, err := types.Parse(reqBody.RowType)
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("bad row type: %s", err))
	}
	rowStruct, ok := rowT.(*types.TStruct)
	if !ok {
		return c.String(http.StatusBadRequest, "row type must be a Struct")
	}
	typ, err := rvd.NewOrderedRVDType(rowStruct, reqBody.Key, reqBody.PartitionKey)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	var rawRows []map[string]interface{}
	if reqBody.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*reqBody.RowsString))
		for ndJSONScanner.Scan() {
			line := strings.TrimSpace(ndJSONScanner.Text())
			if line == "" {
				continue
			}
			var raw interface{}
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				return c.String(http.StatusBadRequest, fmt.Sprintf("line was not JSON: %s", err))
			}
			jsonMap, ok := raw.(map[string]interface{})
			if !ok {
				return c.String(http.StatusBadRequest, "line was not a JSON object")
			}
			rawRows = append(rawRows, jsonMap)
		}
	} else {
		rawRows = reqBody.Rows
	}

	importer := types.NewJSONImporter()
	rows := make([]types.Annotation, 0, len(rawRows))
	for i, jsonMap := range rawRows {
		m := jsonMap
		if reqBody.Flatten {
			flat, err := gojsonutils.Flatten(jsonMap, nil)
			if err != nil {
				return c.InternalError(err, "error flattening JSON map")
			}
			flatMap, ok := flat.(map[string]interface{})
			if !ok {
				return c.InternalError(ErrNotFlatMap, fmt.Sprintf("got a non flat map: %+v", flat))
			}
			m = flatMap
		}
		a, err := importer.Import(rowStruct, m)
		if err != nil {
			return c.String(http.StatusBadRequest, fmt.Sprintf("error importing row %d: %s", i, err))
		}
		rows = append(rows, a)
	}

	nParts := reqBody.NumPartitions
	if nParts < 1 {
		nParts = 1
	}
	rdd := exec.Parallelize(rowStruct, rows, nParts)
	ds, err := rvd.Coerce(ctx, s.Runtime, typ, rdd)
	if err != nil {
		return c.InternalError(err, "error coercing dataset")
	}

	id := utils.GenKSortedID("ds_")
	manifest, err := ds.Write(ctx, s.Runtime, s.PartStore, id)
	if err != nil {
		return c.InternalError(err, "error writing dataset")
	}
	rowCount := int64(len(rows))
	err = s.MetaStore.RegisterDataset(ctx, metastore.DatasetRecord{
		ID:       id,
		Name:     reqBody.Name,
		Path:     id,
		Manifest: *manifest,
		RowCount: &rowCount,
	})
	if err != nil {
		if errors.Is(err, metastore.ErrDatasetExists) {
			return c.String(http.StatusConflict, "a dataset with that name already exists")
		}
		return c.InternalError(err, "error registering dataset")
	}

	return c.JSON(http.StatusOK, ImportStats{
		DatasetID:  id,
		NumRows:    rowCount,
		Partitions: ds.RDD.NumPartitions,
		TimeMS:     time.Since(start).Milliseconds(),
	})
}
