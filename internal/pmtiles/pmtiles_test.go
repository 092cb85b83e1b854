package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
)

func TestZxyToID(t *testing.T) {
	tests := []struct {
		z    uint8
		x, y uint32
		want uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{1, 0, 1, 2},
		{1, 1, 1, 3},
		{1, 1, 0, 4},
		{2, 0, 0, 5},
	}
	for _, tt := range tests {
		if got := ZxyToID(tt.z, tt.x, tt.y); got != tt.want {
			t.Errorf("ZxyToID(%d,%d,%d) = %d, want %d", tt.z, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	in := HeaderV3{
		SpecVersion:         3,
		RootOffset:          127,
		RootLength:          40,
		MetadataOffset:      167,
		MetadataLength:      20,
		TileDataOffset:      187,
		TileDataLength:      1000,
		AddressedTilesCount: 7,
		TileEntriesCount:    7,
		TileContentsCount:   7,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             10,
		MaxZoom:             16,
		MinLonE7:            124964000,
		MinLatE7:            419028000,
		MaxLonE7:            -1,
		MaxLatE7:            419030000,
		CenterZoom:          13,
		CenterLonE7:         124965000,
		CenterLatE7:         419029000,
	}
	out, err := DeserializeHeader(SerializeHeader(in))
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip:\n got %+v\nwant %+v", out, in)
	}
	if _, err := DeserializeHeader(make([]byte, HeaderV3LenBytes)); err != errMagic {
		t.Errorf("expected magic error, got %v", err)
	}
}

func TestSerializeEntriesContiguousOffsets(t *testing.T) {
	b, err := SerializeEntries([]EntryV3{
		{TileID: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 3, Offset: 10, Length: 5, RunLength: 1},
	}, NoCompression)
	if err != nil {
		t.Fatal(err)
	}
	// count, ids (1, +2), run lengths, lengths, offsets (0+1, contiguous 0)
	want := []byte{2, 1, 2, 1, 1, 10, 5, 1, 0}
	if !bytes.Equal(b, want) {
		t.Errorf("entries = %v, want %v", b, want)
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, Archive{
		TileType:        Mvt,
		TileCompression: Gzip,
		MinZoom:         1,
		MaxZoom:         1,
		Bound:           [4]float64{12.4, 41.8, 12.6, 42.0},
		Metadata:        map[string]any{"name": "locali"},
	}, []Tile{
		{Z: 1, X: 1, Y: 0, Data: []byte("bbb")},
		{Z: 1, X: 0, Y: 0, Data: []byte("a")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
	}
	data := buf.Bytes()
	h, err := DeserializeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.TileEntriesCount != 2 || h.TileDataLength != 4 || !h.Clustered {
		t.Errorf("header = %+v", h)
	}
	if h.MinLonE7 != 124000000 || h.CenterLatE7 != 419000000 {
		t.Errorf("bounds = %d %d", h.MinLonE7, h.CenterLatE7)
	}
	// tile (1,0,0) has the lower Hilbert ID so it is stored first
	if got := string(data[h.TileDataOffset : h.TileDataOffset+h.TileDataLength]); got != "abbb" {
		t.Errorf("tile data = %q", got)
	}

	meta := gunzip(t, data[h.MetadataOffset:h.MetadataOffset+h.MetadataLength])
	var m map[string]any
	if err := json.Unmarshal(meta, &m); err != nil || m["name"] != "locali" {
		t.Errorf("metadata = %s (%v)", meta, err)
	}

	root := gunzip(t, data[h.RootOffset:h.RootOffset+h.RootLength])
	if count, _ := binary.Uvarint(root); count != 2 {
		t.Errorf("root directory count = %d", count)
	}

	if _, err := Write(io.Discard, Archive{}, nil); err == nil {
		t.Error("expected an error for an empty archive")
	}
}

func gunzip(t *testing.T, b []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
