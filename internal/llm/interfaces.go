package llm

// Source hands out providers by name, or the default one.
type Source interface {
	Get(name string) (Provider, error)
	Default() (Provider, error)
}

var _ Source = (*Registry)(nil)
