package ranking

// Default ranking parameters. Every call site uses these unless it passes explicit options.
const (
	DefaultThreshold = 0.7
	DefaultLimit     = 5
)

// Options controls which scored candidates are returned.
//
// Threshold is the minimum cosine similarity for a candidate to be returned. It is not
// clamped: a value above 1 returns nothing and a value below -1 keeps every scored candidate.
// Limit caps the number of results; Limit <= 0 returns nothing.
type Options struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Limit     int     `yaml:"limit" json:"limit"`
}

// DefaultOptions returns threshold 0.7 and limit 5.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, Limit: DefaultLimit}
}

// Override returns o with the non-nil threshold and positive limit applied.
func (o Options) Override(threshold *float64, limit int) Options {
	if threshold != nil {
		o.Threshold = *threshold
	}
	if limit > 0 {
		o.Limit = limit
	}
	return o
}
