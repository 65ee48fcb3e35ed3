package maskhist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"volbrick/internal/models"
)

// snapshot stream header
var magic = [4]byte{'V', 'B', 'M', 'K'}

const codecVersion uint16 = 1

// ErrBadSnapshot is returned when a snapshot stream cannot be decoded.
var ErrBadSnapshot = errors.New("malformed mask snapshot")

type header struct {
	Magic   [4]byte
	Version uint16
	_       uint16
	X, Y, Z uint32
	Length  uint64
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// EncodeSnapshot packs a mask of resolution res into a compressed stream.
// Masks are mostly runs of zero, so they shrink by orders of magnitude.
func EncodeSnapshot(w io.Writer, res models.Resolution, data []byte) error {
	if len(data) != res.Voxels() {
		return fmt.Errorf("encode snapshot: %d bytes for %s", len(data), res)
	}
	h := header{
		Magic:   magic,
		Version: codecVersion,
		X:       uint32(res.X),
		Y:       uint32(res.Y),
		Z:       uint32(res.Z),
		Length:  uint64(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("encode snapshot header: %w", err)
	}
	if _, err := w.Write(encoder.EncodeAll(data, nil)); err != nil {
		return fmt.Errorf("encode snapshot payload: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a stream written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (models.Resolution, []byte, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return models.Resolution{}, nil, fmt.Errorf("%w: header: %v", ErrBadSnapshot, err)
	}
	if h.Magic != magic {
		return models.Resolution{}, nil, fmt.Errorf("%w: bad magic %q", ErrBadSnapshot, h.Magic[:])
	}
	if h.Version != codecVersion {
		return models.Resolution{}, nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, h.Version)
	}
	res := models.Resolution{X: int(h.X), Y: int(h.Y), Z: int(h.Z)}
	if !res.Valid() || uint64(res.Voxels()) != h.Length {
		return models.Resolution{}, nil, fmt.Errorf("%w: length %d does not match %s", ErrBadSnapshot, h.Length, res)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return models.Resolution{}, nil, fmt.Errorf("%w: payload: %v", ErrBadSnapshot, err)
	}
	data, err := decoder.DecodeAll(payload, make([]byte, 0, h.Length))
	if err != nil {
		return models.Resolution{}, nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if uint64(len(data)) != h.Length {
		return models.Resolution{}, nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrBadSnapshot, len(data), h.Length)
	}
	return res, data, nil
}

// Export writes the current snapshot.
func (h *History) Export(w io.Writer) error {
	cur := h.Current()
	if cur == nil {
		return fmt.Errorf("export: %w: history is empty", models.ErrHistoryUnavailable)
	}
	return EncodeSnapshot(w, h.res, cur.Data)
}

// Import decodes a snapshot and commits it as the newest state.
func (h *History) Import(r io.Reader) (*Snapshot, error) {
	res, data, err := DecodeSnapshot(r)
	if err != nil {
		return nil, err
	}
	if res != h.res {
		return nil, fmt.Errorf("import: snapshot is %s, volume is %s", res, h.res)
	}
	return h.Commit(data)
}

// CompressedSize reports the encoded size of the current snapshot.
func (h *History) CompressedSize() (int, error) {
	var buf bytes.Buffer
	if err := h.Export(&buf); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}
