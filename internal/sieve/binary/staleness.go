package binary

// RegistryView is the minimal slice of the Extension Registry the
// staleness/executability checks need; internal/sieve/registry.Registry
// satisfies it.
type RegistryView interface {
	IsEnabled(name string) bool
}

// IsStale reports whether this binary must be recompiled before use
// (spec.md §4.6 "Up-to-date check"): the source changed size, the source
// is newer than the binary, or the required format version regressed.
func (b *Binary) IsStale(current SourceMeta, requiredFormatVersion uint16) bool {
	if current.SourceSize != b.Meta.SourceSize {
		return true
	}
	if current.SourceMTime.After(b.Meta.SourceMTime) {
		return true
	}
	if b.Header.FormatVersion < requiredFormatVersion {
		return true
	}
	return false
}

// RequiresIdenticalCompiler reports whether the binary's recorded
// compiler version differs from want — used when the caller demands
// compiler identity (spec.md §4.6).
func (b *Binary) RequiresIdenticalCompiler(want uint16) bool {
	return b.Header.CompilerVersion != want
}

// IsExecutable reports whether every dependent extension in EXT_DEPS is
// currently registered and enabled (spec.md §4.6 "Executability check").
// It returns the name of the first missing dependency, if any.
func (b *Binary) IsExecutable(reg RegistryView) (bool, string) {
	for _, dep := range b.ExtDeps {
		if !reg.IsEnabled(dep.Name) {
			return false, dep.Name
		}
	}
	return true, ""
}
