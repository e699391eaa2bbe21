// Package binary implements the Binary Container (spec.md C7): a
// versioned, block-structured on-disk artifact holding bytecode, the
// string table, the extension-dependency list, and per-extension
// scratch blocks, plus the save/load, staleness, and executability
// predicates spec.md §4.6 and §6 describe.
package binary

import (
	"bytes"
	encbinary "encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Magic is the fixed 8-byte container identifier (spec.md §4.6).
var Magic = [8]byte{'P', 'H', 'S', 'I', 'E', 'V', 'E', 0}

// FormatVersion is the container format this package reads and writes.
// Bumping it is a breaking change per spec.md's Non-goals ("no script
// migration across binary format versions other than invalidation").
const FormatVersion = uint16(1)

// BlockKind enumerates the block kinds of spec.md §4.6, plus an internal
// META kind (5) carrying the {source_path, source_mtime, source_size,
// compile_id} up-to-date/debug data spec.md §3 says an on-disk artifact
// records.
type BlockKind uint16

const (
	BlockCode    BlockKind = 1
	BlockStrings BlockKind = 2
	BlockExtDeps BlockKind = 3
	BlockExtData BlockKind = 4
	BlockMeta    BlockKind = 5
)

// Header flag bits.
const (
	FlagDebugInfo uint32 = 1 << 0
)

// Header is the fixed-size on-disk header (spec.md §4.6).
type Header struct {
	Magic          [8]byte
	FormatVersion  uint16
	CompilerVersion uint16
	Flags          uint32
	BlockCount     uint32
}

// BlockEntry describes one block's placement in the file.
type BlockEntry struct {
	Offset uint64
	Length uint64
	Kind   uint16
}

// ExtDep is one entry of the EXT_DEPS block: the name (and, for forward
// compatibility with extensions that version their wire format, a
// version string) of an extension this binary depends on. Its position
// in the slice is its ext_index (spec.md §3, §4.5).
type ExtDep struct {
	Name    string
	Version string
}

// SourceMeta is the up-to-date bookkeeping spec.md §3/§4.6 describes.
type SourceMeta struct {
	SourcePath  string
	SourceMTime time.Time
	SourceSize  int64
}

// Binary is the in-memory form of a compiled script.
type Binary struct {
	Header Header

	Code        []byte
	StringTable []byte // encoded form; decode with DecodeStringTable
	ExtDeps     []ExtDep
	ExtData     [][]byte // indexed by ext_index, parallel to ExtDeps

	Meta      SourceMeta
	CompileID uuid.UUID
	HasDebug  bool
}

// errCorrupt is returned (wrapped) whenever the container's own framing is
// inconsistent — spec.md's BIN_CORRUPT outcome.
type errCorrupt struct{ reason string }

func (e *errCorrupt) Error() string { return "sieve: binary corrupt: " + e.reason }

// ErrCorrupt wraps a corrupt-bytecode-path error for errors.Is matching.
var ErrCorrupt = &errCorrupt{reason: "generic"}

func (e *errCorrupt) Is(target error) bool {
	_, ok := target.(*errCorrupt)
	return ok
}

func errTruncated(what string) error {
	return &errCorrupt{reason: "truncated " + what}
}

// Save writes the container atomically: to a sibling temp path, then
// os.Rename into place, mode 0600 (spec.md §6).
func (b *Binary) Save(path string) error {
	buf, err := b.encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("binary: save: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("binary: save: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("binary: save: close: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("binary: save: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("binary: save: rename: %w", err)
	}
	return nil
}

// Load reads and decodes a container previously written by Save.
func Load(path string) (*Binary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// encode serializes the Binary to its on-disk byte form.
func (b *Binary) encode() ([]byte, error) {
	metaBuf := encodeMeta(b.Meta, b.CompileID)

	type blob struct {
		kind BlockKind
		data []byte
	}
	blobs := []blob{
		{BlockCode, b.Code},
		{BlockStrings, b.StringTable},
		{BlockExtDeps, encodeExtDeps(b.ExtDeps)},
	}
	for _, d := range b.ExtData {
		blobs = append(blobs, blob{BlockExtData, d})
	}
	blobs = append(blobs, blob{BlockMeta, metaBuf})

	hdr := Header{
		Magic:           Magic,
		FormatVersion:   FormatVersion,
		CompilerVersion: b.Header.CompilerVersion,
		Flags:           b.Header.Flags,
		BlockCount:      uint32(len(blobs)),
	}

	var out bytes.Buffer
	if err := encbinary.Write(&out, encbinary.LittleEndian, hdr); err != nil {
		return nil, err
	}

	headerLen := out.Len()
	tableLen := len(blobs) * 18 // 8+8+2 bytes per entry
	offset := uint64(headerLen + tableLen)

	entries := make([]BlockEntry, len(blobs))
	for i, bl := range blobs {
		entries[i] = BlockEntry{Offset: offset, Length: uint64(len(bl.data)), Kind: uint16(bl.kind)}
		offset += uint64(len(bl.data))
	}
	for _, e := range entries {
		if err := encbinary.Write(&out, encbinary.LittleEndian, e); err != nil {
			return nil, err
		}
	}
	for _, bl := range blobs {
		out.Write(bl.data)
	}
	return out.Bytes(), nil
}

// Decode parses a container previously produced by encode.
func Decode(data []byte) (*Binary, error) {
	r := bytes.NewReader(data)
	var hdr Header
	if err := encbinary.Read(r, encbinary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	entries := make([]BlockEntry, hdr.BlockCount)
	for i := range entries {
		if err := encbinary.Read(r, encbinary.LittleEndian, &entries[i]); err != nil {
			return nil, fmt.Errorf("%w: block table: %v", ErrCorrupt, err)
		}
	}

	b := &Binary{Header: hdr, HasDebug: hdr.Flags&FlagDebugInfo != 0}
	for _, e := range entries {
		if e.Offset+e.Length > uint64(len(data)) {
			return nil, errTruncated("block body")
		}
		body := data[e.Offset : e.Offset+e.Length]
		switch BlockKind(e.Kind) {
		case BlockCode:
			b.Code = body
		case BlockStrings:
			b.StringTable = body
		case BlockExtDeps:
			deps, err := decodeExtDeps(body)
			if err != nil {
				return nil, err
			}
			b.ExtDeps = deps
		case BlockExtData:
			b.ExtData = append(b.ExtData, body)
		case BlockMeta:
			meta, id, err := decodeMeta(body)
			if err != nil {
				return nil, err
			}
			b.Meta = meta
			b.CompileID = id
		default:
			return nil, fmt.Errorf("%w: unknown block kind %d", ErrCorrupt, e.Kind)
		}
	}
	return b, nil
}

func encodeExtDeps(deps []ExtDep) []byte {
	var buf bytes.Buffer
	var n [encbinary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		k := encbinary.PutUvarint(n[:], v)
		buf.Write(n[:k])
	}
	putString := func(s string) {
		putUvarint(uint64(len(s)))
		buf.WriteString(s)
	}
	putUvarint(uint64(len(deps)))
	for _, d := range deps {
		putString(d.Name)
		putString(d.Version)
	}
	return buf.Bytes()
}

func decodeExtDeps(data []byte) ([]ExtDep, error) {
	pos := 0
	readUvarint := func() (uint64, error) {
		v, n := encbinary.Uvarint(data[pos:])
		if n <= 0 {
			return 0, errTruncated("ext deps varint")
		}
		pos += n
		return v, nil
	}
	readString := func() (string, error) {
		l, err := readUvarint()
		if err != nil {
			return "", err
		}
		if pos+int(l) > len(data) {
			return "", errTruncated("ext deps string")
		}
		s := string(data[pos : pos+int(l)])
		pos += int(l)
		return s, nil
	}
	count, err := readUvarint()
	if err != nil {
		return nil, err
	}
	deps := make([]ExtDep, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString()
		if err != nil {
			return nil, err
		}
		version, err := readString()
		if err != nil {
			return nil, err
		}
		deps = append(deps, ExtDep{Name: name, Version: version})
	}
	return deps, nil
}

func encodeMeta(meta SourceMeta, id uuid.UUID) []byte {
	var buf bytes.Buffer
	var n [encbinary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		k := encbinary.PutUvarint(n[:], v)
		buf.Write(n[:k])
	}
	putString := func(s string) {
		putUvarint(uint64(len(s)))
		buf.WriteString(s)
	}
	putString(meta.SourcePath)
	putUvarint(uint64(meta.SourceMTime.UnixNano()))
	putUvarint(uint64(meta.SourceSize))
	idBytes, _ := id.MarshalBinary()
	buf.Write(idBytes)
	return buf.Bytes()
}

func decodeMeta(data []byte) (SourceMeta, uuid.UUID, error) {
	pos := 0
	readUvarint := func() (uint64, error) {
		v, n := encbinary.Uvarint(data[pos:])
		if n <= 0 {
			return 0, errTruncated("meta varint")
		}
		pos += n
		return v, nil
	}
	readString := func() (string, error) {
		l, err := readUvarint()
		if err != nil {
			return "", err
		}
		if pos+int(l) > len(data) {
			return "", errTruncated("meta string")
		}
		s := string(data[pos : pos+int(l)])
		pos += int(l)
		return s, nil
	}
	path, err := readString()
	if err != nil {
		return SourceMeta{}, uuid.Nil, err
	}
	mtimeNano, err := readUvarint()
	if err != nil {
		return SourceMeta{}, uuid.Nil, err
	}
	size, err := readUvarint()
	if err != nil {
		return SourceMeta{}, uuid.Nil, err
	}
	if pos+16 > len(data) {
		return SourceMeta{}, uuid.Nil, errTruncated("meta compile id")
	}
	id, err := uuid.FromBytes(data[pos : pos+16])
	if err != nil {
		return SourceMeta{}, uuid.Nil, fmt.Errorf("%w: compile id: %v", ErrCorrupt, err)
	}
	return SourceMeta{SourcePath: path, SourceMTime: time.Unix(0, int64(mtimeNano)), SourceSize: int64(size)}, id, nil
}

// readAll is a small helper for callers that want the whole file as bytes
// without going through os.ReadFile directly (e.g. reading from a
// io.Reader-backed script store stand-in in tests).
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	return buf.Bytes(), err
}
