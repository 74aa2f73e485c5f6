// Package ranking ranks stored posts by image similarity to a query vector.
package ranking

// Stats describes one ranking pass.
type Stats struct {
	// Candidates is the number of posts offered to the ranker.
	Candidates int
	// Scored is the number of candidates that had a vector and were scored.
	Scored int
	// AboveThreshold is the number of scored candidates at or above the threshold.
	AboveThreshold int
	// Returned is the number of matches after the limit was applied.
	Returned int
}

// Observer receives the Stats of every ranking pass made through a Ranker.
type Observer interface {
	ObserveRank(stats Stats)
}
