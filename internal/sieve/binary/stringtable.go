package binary

import "encoding/binary"

// StringTable is the generator's append-only, deduplicating string pool
// that becomes block 1 of a Binary (spec.md §4.5 "Strings are encoded as
// (length, bytes) and deduplicated into block 1"). Offsets are byte
// offsets into the encoded block, which is what the opcode stream stores
// as a string operand's reference.
type StringTable struct {
	offsetOf map[string]uint64
	order    []string
	encoded  []byte
}

// NewStringTable returns an empty StringTable.
func NewStringTable() *StringTable {
	return &StringTable{offsetOf: make(map[string]uint64)}
}

// Intern returns the byte offset of s within the encoded table, adding it
// if not already present.
func (t *StringTable) Intern(s string) uint64 {
	if off, ok := t.offsetOf[s]; ok {
		return off
	}
	off := uint64(len(t.encoded))
	t.offsetOf[s] = off
	t.order = append(t.order, s)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	t.encoded = append(t.encoded, lenBuf[:n]...)
	t.encoded = append(t.encoded, s...)
	return off
}

// Bytes returns the encoded table, suitable for writing as block 1.
func (t *StringTable) Bytes() []byte { return t.encoded }

// DecodeStringTable parses an encoded block 1 back into an offset->string
// index, used by the reader and by Dump.
func DecodeStringTable(data []byte) (map[uint64]string, error) {
	out := make(map[uint64]string)
	var pos uint64
	for pos < uint64(len(data)) {
		start := pos
		l, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return nil, errTruncated("string table length")
		}
		pos += uint64(n)
		if pos+l > uint64(len(data)) {
			return nil, errTruncated("string table body")
		}
		out[start] = string(data[pos : pos+l])
		pos += l
	}
	return out, nil
}

// StringAt resolves a string at the given table offset from an already
// decoded table, returning "" if the offset isn't a valid string start.
func StringAt(table map[uint64]string, offset uint64) string {
	return table[offset]
}
