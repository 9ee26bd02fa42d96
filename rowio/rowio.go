package rowio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/danthegoodman1/strata/region"
	"github.com/danthegoodman1/strata/types"
	"github.com/klauspost/compress/snappy"
)

// CodecSnappy is the block codec id recorded in manifests
const CodecSnappy = "snappy"

var Codecs = []string{CodecSnappy}

func ValidCodec(id string) bool {
	for _, c := range Codecs {
		if c == id {
			return true
		}
	}
	return false
}

type (
	// Encoder writes region values of one type as a snappy-framed stream.
	// Each row is re-rooted into a staging region so the written block is
	// self-contained: every internal offset points within the block.
	Encoder struct {
		t       types.Type
		w       *snappy.Writer
		staging *region.Region
		scratch [2 * binary.MaxVarintLen64]byte
	}

	// Decoder restores rows written by Encoder. Each row lands in a fresh
	// region: rows cross partition boundaries only by serialization.
	Decoder struct {
		t types.Type
		r *bufio.Reader
	}
)

func NewEncoder(w io.Writer, t types.Type) *Encoder {
	return &Encoder{
		t:       t,
		w:       snappy.NewBufferedWriter(w),
		staging: region.New(),
	}
}

func (e *Encoder) Encode(rv region.RegionValue) error {
	e.staging.Clear()
	off := types.WriteValue(e.staging, e.t, rv.Region, rv.Offset)
	block := e.staging.Bytes()
	n := binary.PutUvarint(e.scratch[:], uint64(len(block)))
	n += binary.PutUvarint(e.scratch[n:], uint64(off))
	if _, err := e.w.Write(e.scratch[:n]); err != nil {
		return fmt.Errorf("error writing row header: %w", err)
	}
	if _, err := e.w.Write(block); err != nil {
		return fmt.Errorf("error writing row block: %w", err)
	}
	return nil
}

// EncodeBytes re-roots and frames a row into a standalone byte slice, used
// by the shuffle to ship single rows.
func EncodeBytes(t types.Type, rv region.RegionValue) []byte {
	staging := region.New()
	off := types.WriteValue(staging, t, rv.Region, rv.Offset)
	block := staging.Bytes()
	var hdr [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(block)))
	n += binary.PutUvarint(hdr[n:], uint64(off))
	out := make([]byte, 0, n+len(block))
	out = append(out, hdr[:n]...)
	out = append(out, block...)
	return out
}

// DecodeBytes restores a row framed by EncodeBytes into a fresh region
func DecodeBytes(b []byte) (region.RegionValue, error) {
	blockLen, n := binary.Uvarint(b)
	if n <= 0 {
		return region.RegionValue{}, fmt.Errorf("bad row frame header")
	}
	off, n2 := binary.Uvarint(b[n:])
	if n2 <= 0 {
		return region.RegionValue{}, fmt.Errorf("bad row frame offset")
	}
	block := b[n+n2:]
	if uint64(len(block)) != blockLen {
		return region.RegionValue{}, fmt.Errorf("row frame length mismatch: %d != %d", len(block), blockLen)
	}
	r := region.New()
	r.SetBytes(block)
	return region.Value(r, int64(off)), nil
}

// Close flushes the snappy frame; the underlying writer is not closed
func (e *Encoder) Close() error {
	return e.w.Close()
}

func NewDecoder(r io.Reader, t types.Type) *Decoder {
	return &Decoder{
		t: t,
		r: bufio.NewReader(snappy.NewReader(r)),
	}
}

// Decode reads the next row into a fresh region. Returns io.EOF at a clean
// end of stream.
func (d *Decoder) Decode() (region.RegionValue, error) {
	blockLen, err := binary.ReadUvarint(d.r)
	if err != nil {
		if err == io.EOF {
			return region.RegionValue{}, io.EOF
		}
		return region.RegionValue{}, fmt.Errorf("error reading row length: %w", err)
	}
	off, err := binary.ReadUvarint(d.r)
	if err != nil {
		return region.RegionValue{}, fmt.Errorf("error reading row offset: %w", err)
	}
	block := make([]byte, blockLen)
	if _, err := io.ReadFull(d.r, block); err != nil {
		return region.RegionValue{}, fmt.Errorf("error reading row block: %w", err)
	}
	r := region.New()
	r.SetBytes(block)
	return region.Value(r, int64(off)), nil
}
