package binary

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/sievecore/sievecore/internal/sieve/registry"
)

var (
	mnemonicStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	offsetStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	operandStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// opReader adapts a byte slice + string table into registry.DumpContext so
// a registered DumpFn can read its own operands.
type opReader struct {
	code  []byte
	pos   int
	table map[uint64]string
}

func (r *opReader) ReadByte() (byte, error) {
	if r.pos >= len(r.code) {
		return 0, errTruncated("opcode stream")
	}
	b := r.code[r.pos]
	r.pos++
	return b, nil
}

func (r *opReader) ReadVarint() (uint64, error) {
	v, n := binary.Uvarint(r.code[r.pos:])
	if n <= 0 {
		return 0, errTruncated("varint operand")
	}
	r.pos += n
	return v, nil
}

func (r *opReader) ReadString() (string, error) {
	off, err := r.ReadVarint()
	if err != nil {
		return "", err
	}
	return r.table[off], nil
}

func (r *opReader) ReadInt32() (int32, error) {
	if r.pos+4 > len(r.code) {
		return 0, errTruncated("jump operand")
	}
	v := int32(binary.LittleEndian.Uint32(r.code[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *opReader) ResolveString(tableOffset string) string { return tableOffset }

// Dump writes a symbolic disassembly of the binary's code block to w:
// offset, mnemonic, and resolved operands, using lipgloss to distinguish
// mnemonics from operand data on a terminal (degrading gracefully to
// plain text when NO_COLOR/non-tty, which lipgloss handles itself).
func Dump(w io.Writer, b *Binary, reg *registry.Registry) error {
	table, err := DecodeStringTable(b.StringTable)
	if err != nil {
		return err
	}
	depNames := make([]string, len(b.ExtDeps))
	for i, d := range b.ExtDeps {
		depNames[i] = d.Name
	}

	r := &opReader{code: b.Code, table: table}
	for r.pos < len(r.code) {
		offset := r.pos
		wire, err := r.ReadByte()
		if err != nil {
			return err
		}

		var op registry.Opcode
		var found bool
		var label string
		if wire < registry.CustomStart {
			op, found = reg.CoreOpcode(wire)
			label = op.Mnemonic
		} else {
			extIndex := int(wire - registry.CustomStart)
			if extIndex >= len(depNames) {
				return fmt.Errorf("%w: opcode references unknown extension index %d", ErrCorrupt, extIndex)
			}
			sub, err := r.ReadByte()
			if err != nil {
				return err
			}
			op, found = reg.ExtOpcode(depNames[extIndex], sub)
			label = depNames[extIndex] + "." + op.Mnemonic
		}
		if !found {
			return fmt.Errorf("%w: unregistered opcode 0x%02x at offset %d", ErrCorrupt, wire, offset)
		}

		var operands string
		if op.DumpFn != nil {
			operands, err = op.DumpFn(r)
			if err != nil {
				return err
			}
		}

		fmt.Fprintf(w, "%s  %s %s\n",
			offsetStyle.Render(fmt.Sprintf("%08x", offset)),
			mnemonicStyle.Render(label),
			operandStyle.Render(operands),
		)
	}
	return nil
}

// Hexdump writes a classic 16-bytes-per-line hex+ASCII dump of the raw
// code block (spec.md §6 "hexdump(binary, stream) for debugging").
func Hexdump(w io.Writer, b *Binary) error {
	const width = 16
	data := b.Code
	for i := 0; i < len(data); i += width {
		end := i + width
		if end > len(data) {
			end = len(data)
		}
		line := data[i:end]

		hex := make([]byte, 0, width*3)
		ascii := make([]byte, 0, width)
		for _, c := range line {
			hex = append(hex, fmt.Sprintf("%02x ", c)...)
			if c >= 0x20 && c < 0x7f {
				ascii = append(ascii, c)
			} else {
				ascii = append(ascii, '.')
			}
		}
		for len(hex) < width*3 {
			hex = append(hex, ' ')
		}
		if _, err := fmt.Fprintf(w, "%08x  %s |%s|\n", i, hex, ascii); err != nil {
			return err
		}
	}
	return nil
}
