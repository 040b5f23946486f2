package dedupe

// Option applies a configuration option to NewInMemoryDeduper.
type Option func(*config)

// WithMaxSize sets how many keys are remembered. Zero or negative means
// unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *config) {
		c.maxSize = maxSize
	}
}
