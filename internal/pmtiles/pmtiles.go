// Package pmtiles writes single-directory PMTiles v3 archives.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Compression is the compression applied to tiles and directories.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
)

// TileType is the format of tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
)

// HeaderV3LenBytes is the fixed size of the binary header.
const HeaderV3LenBytes = 127

var errMagic = errors.New("magic number not detected")

// HeaderV3 is the binary header of an archive.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EntryV3 is one directory entry.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts tile coordinates to a Hilbert tile ID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	acc := uint64((1<<(z*2) - 1) / 3)
	if z == 0 {
		return acc
	}
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry != 0 {
		return x, y
	}
	if rx != 0 {
		x = n - 1 - x
		y = n - 1 - y
	}
	return y, x
}

// SerializeHeader encodes h in its 127-byte layout.
func SerializeHeader(h HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootOffset, h.RootLength,
		h.MetadataOffset, h.MetadataLength,
		h.LeafDirectoryOffset, h.LeafDirectoryLength,
		h.TileDataOffset, h.TileDataLength,
		h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader parses a binary header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes {
		return h, errors.New("buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, errMagic
	}
	le := binary.LittleEndian
	u64 := func(i int) uint64 { return le.Uint64(d[8+8*i:]) }
	i32 := func(off int) int32 { return int32(le.Uint32(d[off:])) }

	h.SpecVersion = d[7]
	h.RootOffset, h.RootLength = u64(0), u64(1)
	h.MetadataOffset, h.MetadataLength = u64(2), u64(3)
	h.LeafDirectoryOffset, h.LeafDirectoryLength = u64(4), u64(5)
	h.TileDataOffset, h.TileDataLength = u64(6), u64(7)
	h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount = u64(8), u64(9), u64(10)
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom, h.MaxZoom = d[100], d[101]
	h.MinLonE7, h.MinLatE7 = i32(102), i32(106)
	h.MaxLonE7, h.MaxLatE7 = i32(110), i32(114)
	h.CenterZoom = d[118]
	h.CenterLonE7, h.CenterLatE7 = i32(119), i32(123)
	return h, nil
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case Gzip:
		var b bytes.Buffer
		w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	}
	return nil, fmt.Errorf("compression %d not supported", c)
}

// SerializeMetadata encodes metadata as compressed JSON.
func SerializeMetadata(metadata map[string]any, c Compression) ([]byte, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return compress(data, c)
}

// SerializeEntries encodes a directory: count, delta-coded IDs, run
// lengths, lengths, then offsets (0 when contiguous with the previous entry).
func SerializeEntries(entries []EntryV3, c Compression) ([]byte, error) {
	var b []byte
	b = binary.AppendUvarint(b, uint64(len(entries)))
	var last uint64
	for _, e := range entries {
		b = binary.AppendUvarint(b, e.TileID-last)
		last = e.TileID
	}
	for _, e := range entries {
		b = binary.AppendUvarint(b, uint64(e.RunLength))
	}
	for _, e := range entries {
		b = binary.AppendUvarint(b, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			b = binary.AppendUvarint(b, 0)
		} else {
			b = binary.AppendUvarint(b, e.Offset+1)
		}
	}
	return compress(b, c)
}

// Tile is one encoded tile.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// Archive holds the archive-wide fields written into the header.
type Archive struct {
	TileType        TileType
	TileCompression Compression
	MinZoom         uint8
	MaxZoom         uint8
	Bound           [4]float64 // min lon, min lat, max lon, max lat
	CenterZoom      uint8
	Metadata        map[string]any
}

func e7(v float64) int32 { return int32(math.Round(v * 1e7)) }

// Write writes tiles as a clustered archive with a single root directory
// and returns the number of bytes written.
func Write(w io.Writer, a Archive, tiles []Tile) (int64, error) {
	if len(tiles) == 0 {
		return 0, errors.New("no tiles to write")
	}

	type idTile struct {
		id   uint64
		data []byte
	}
	sorted := make([]idTile, 0, len(tiles))
	for _, t := range tiles {
		sorted = append(sorted, idTile{id: ZxyToID(t.Z, t.X, t.Y), data: t.Data})
	}
	slices.SortFunc(sorted, func(a, b idTile) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	entries := make([]EntryV3, 0, len(sorted))
	var tileData bytes.Buffer
	for _, t := range sorted {
		entries = append(entries, EntryV3{
			TileID:    t.id,
			Offset:    uint64(tileData.Len()),
			Length:    uint32(len(t.data)),
			RunLength: 1,
		})
		tileData.Write(t.data)
	}

	root, err := SerializeEntries(entries, Gzip)
	if err != nil {
		return 0, fmt.Errorf("serializing directory: %w", err)
	}
	meta, err := SerializeMetadata(a.Metadata, Gzip)
	if err != nil {
		return 0, fmt.Errorf("serializing metadata: %w", err)
	}

	rootOffset := uint64(HeaderV3LenBytes)
	metaOffset := rootOffset + uint64(len(root))
	dataOffset := metaOffset + uint64(len(meta))
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootOffset,
		RootLength:          uint64(len(root)),
		MetadataOffset:      metaOffset,
		MetadataLength:      uint64(len(meta)),
		TileDataOffset:      dataOffset,
		TileDataLength:      uint64(tileData.Len()),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     a.TileCompression,
		TileType:            a.TileType,
		MinZoom:             a.MinZoom,
		MaxZoom:             a.MaxZoom,
		MinLonE7:            e7(a.Bound[0]),
		MinLatE7:            e7(a.Bound[1]),
		MaxLonE7:            e7(a.Bound[2]),
		MaxLatE7:            e7(a.Bound[3]),
		CenterZoom:          a.CenterZoom,
		CenterLonE7:         e7((a.Bound[0] + a.Bound[2]) / 2),
		CenterLatE7:         e7((a.Bound[1] + a.Bound[3]) / 2),
	}

	var n int64
	for _, part := range [][]byte{SerializeHeader(h), root, meta, tileData.Bytes()} {
		m, err := w.Write(part)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
