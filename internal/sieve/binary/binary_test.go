package binary

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sievecore/sievecore/internal/sieve/registry"
)

func sampleBinary() *Binary {
	st := NewStringTable()
	off := st.Intern("INBOX")

	var code bytes.Buffer
	code.WriteByte(0x01) // pretend core opcode
	var lenBuf [10]byte
	n := putUvarintHelper(lenBuf[:], off)
	code.Write(lenBuf[:n])

	return &Binary{
		Header: Header{CompilerVersion: 1},
		Code:   code.Bytes(),
		StringTable: st.Bytes(),
		ExtDeps: []ExtDep{{Name: "fileinto", Version: "1"}},
		ExtData: [][]byte{[]byte("scratch")},
		Meta: SourceMeta{
			SourcePath:  "a.sieve",
			SourceMTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			SourceSize:  42,
		},
		CompileID: uuid.New(),
	}
}

func putUvarintHelper(buf []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

func TestBinary_SaveLoadRoundTrip(t *testing.T) {
	b := sampleBinary()
	path := filepath.Join(t.TempDir(), "script.sievebin")

	require.NoError(t, b.Save(path))
	got, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(b.Code, got.Code); diff != "" {
		t.Errorf("Code round-trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.StringTable, got.StringTable); diff != "" {
		t.Errorf("StringTable round-trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.ExtDeps, got.ExtDeps); diff != "" {
		t.Errorf("ExtDeps round-trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.ExtData, got.ExtData); diff != "" {
		t.Errorf("ExtData round-trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b.Meta, got.Meta); diff != "" {
		t.Errorf("Meta round-trip mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, b.CompileID, got.CompileID)
	require.Equal(t, FormatVersion, got.Header.FormatVersion)
}

func TestBinary_DecodeRejectsBadMagic(t *testing.T) {
	b := sampleBinary()
	buf, err := b.encode()
	require.NoError(t, err)
	buf[0] ^= 0xff

	_, err = Decode(buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestBinary_DecodeRejectsTruncatedBlock(t *testing.T) {
	b := sampleBinary()
	buf, err := b.encode()
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-2])
	require.Error(t, err)
}

func TestStringTable_DedupesRepeatedStrings(t *testing.T) {
	st := NewStringTable()
	a := st.Intern("INBOX")
	b := st.Intern("Spam")
	c := st.Intern("INBOX")
	require.Equal(t, a, c)
	require.NotEqual(t, a, b)

	decoded, err := DecodeStringTable(st.Bytes())
	require.NoError(t, err)
	require.Equal(t, "INBOX", decoded[a])
	require.Equal(t, "Spam", decoded[b])
}

func TestBinary_IsStale(t *testing.T) {
	b := sampleBinary()

	same := SourceMeta{SourcePath: "a.sieve", SourceMTime: b.Meta.SourceMTime, SourceSize: b.Meta.SourceSize}
	require.False(t, b.IsStale(same, FormatVersion))

	biggerSize := same
	biggerSize.SourceSize = 999
	require.True(t, b.IsStale(biggerSize, FormatVersion))

	newer := same
	newer.SourceMTime = b.Meta.SourceMTime.Add(time.Hour)
	require.True(t, b.IsStale(newer, FormatVersion))

	require.True(t, b.IsStale(same, FormatVersion+1))
}

func TestBinary_RequiresIdenticalCompiler(t *testing.T) {
	b := sampleBinary()
	require.False(t, b.RequiresIdenticalCompiler(1))
	require.True(t, b.RequiresIdenticalCompiler(2))
}

type fakeRegistryView struct{ enabled map[string]bool }

func (f fakeRegistryView) IsEnabled(name string) bool { return f.enabled[name] }

func TestBinary_IsExecutable(t *testing.T) {
	b := sampleBinary()

	ok, missing := b.IsExecutable(fakeRegistryView{enabled: map[string]bool{"fileinto": true}})
	require.True(t, ok)
	require.Empty(t, missing)

	ok, missing = b.IsExecutable(fakeRegistryView{enabled: map[string]bool{}})
	require.False(t, ok)
	require.Equal(t, "fileinto", missing)
}

func TestDump_ResolvesCoreAndExtensionOpcodes(t *testing.T) {
	reg := registry.New()
	_, err := reg.Register(registry.ExtensionDef{
		Name: registry.CoreExtensionName,
		Opcodes: []registry.Opcode{
			{Mnemonic: "STR", Code: 0x01, DumpFn: func(ctx registry.DumpContext) (string, error) {
				s, err := ctx.ReadString()
				return s, err
			}},
		},
	}, true)
	require.NoError(t, err)

	_, err = reg.Require(registry.ExtensionDef{
		Name: "fileinto",
		Opcodes: []registry.Opcode{
			{Mnemonic: "INTO", Code: 0x00, DumpFn: func(ctx registry.DumpContext) (string, error) {
				s, err := ctx.ReadString()
				return s, err
			}},
		},
	})
	require.NoError(t, err)

	b := sampleBinary()
	// ext_index 0 (fileinto), sub-code INTO, string offset 0 ("INBOX").
	b.Code = append(b.Code, registry.CustomStart, 0x00, 0x00)
	var out bytes.Buffer
	require.NoError(t, Dump(&out, b, reg))
	require.Contains(t, out.String(), "STR")
	require.Contains(t, out.String(), "INBOX")
	require.Contains(t, out.String(), "fileinto.INTO")
}

func TestHexdump_FormatsKnownLayout(t *testing.T) {
	b := &Binary{Code: []byte("hello, sieve!!!!")}
	var out bytes.Buffer
	require.NoError(t, Hexdump(&out, b))
	require.Contains(t, out.String(), "00000000")
	require.Contains(t, out.String(), "|hello, sieve!!!!|")
}
