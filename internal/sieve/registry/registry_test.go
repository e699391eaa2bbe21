package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileIntoExt() ExtensionDef {
	return ExtensionDef{
		Name: "fileinto",
		Commands: []CommandDescriptor{
			{Name: "fileinto", Kind: KindCommand, MinPositional: 1, MaxPositional: 1},
		},
	}
}

func TestRegistry_RegisterIsIdempotentOnID(t *testing.T) {
	r := New()
	id1, err := r.Register(fileIntoExt(), true)
	require.NoError(t, err)

	id2, err := r.Register(fileIntoExt(), true)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestRegistry_DenseMonotoneIDs(t *testing.T) {
	r := New()
	id1, _ := r.Register(ExtensionDef{Name: "a"}, true)
	id2, _ := r.Register(ExtensionDef{Name: "b"}, true)
	id3, _ := r.Register(ExtensionDef{Name: "c"}, true)
	assert.Equal(t, []int{0, 1, 2}, []int{id1, id2, id3})
}

func TestRegistry_RequireCannotBeDisabled(t *testing.T) {
	r := New()
	_, err := r.Require(ExtensionDef{Name: "envelope"})
	require.NoError(t, err)

	require.NoError(t, r.SetString([]string{"fileinto"}))
	assert.True(t, r.IsEnabled("envelope"))
	assert.False(t, r.IsEnabled("fileinto")) // never registered
}

func TestRegistry_SetStringDisablesButDoesNotUnregister(t *testing.T) {
	r := New()
	r.Register(fileIntoExt(), true)
	r.Register(ExtensionDef{Name: "reject"}, true)

	require.NoError(t, r.SetString([]string{"fileinto"}))
	assert.True(t, r.IsEnabled("fileinto"))
	assert.False(t, r.IsEnabled("reject"))

	_, _, ok := r.GetByName("reject")
	assert.False(t, ok, "disabled extension must fail name lookup")

	// Still present by id (not unregistered).
	def, ok := r.GetByID(1)
	assert.True(t, ok)
	assert.Equal(t, "reject", def.Name)
}

func TestRegistry_ListStringExcludesPseudoExtensions(t *testing.T) {
	r := New()
	r.Register(ExtensionDef{Name: "@address-parts"}, true)
	r.Register(ExtensionDef{Name: "comparator"}, true)
	require.NoError(t, r.SetString(nil))

	assert.Equal(t, "comparator", r.ListString())
}

func TestRegistry_LookupTagInstanceOf(t *testing.T) {
	r := New()
	r.Register(ExtensionDef{
		Name: "@address-parts",
		Tags: []TagDescriptor{
			{
				Identifier: ":all",
				Hooks: TagHooks{
					InstanceOf: func(name string) bool {
						return name == ":all" || name == ":localpart" || name == ":domain"
					},
				},
			},
		},
	}, true)

	td, ok := r.LookupTag(":domain")
	require.True(t, ok)
	assert.Equal(t, ":all", td.Identifier)

	_, ok = r.LookupTag(":bogus")
	assert.False(t, ok)
}

func TestRegistry_CapabilityHiddenWhenExtensionDisabled(t *testing.T) {
	r := New()
	r.Register(ExtensionDef{Name: "imap4flags"}, true)
	r.RegisterCapability(Capability{
		Name:      "imap4flags",
		OwningExt: "imap4flags",
		GetString: func() string { return "0.2" },
	})

	require.NoError(t, r.SetString(nil))
	assert.NotNil(t, r.Capability("imap4flags"))

	require.NoError(t, r.SetString([]string{}))
	assert.Nil(t, r.Capability("imap4flags"))
}
