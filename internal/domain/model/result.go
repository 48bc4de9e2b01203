package model

import "math"

// UserDelta is the outcome of comparing one candidate against the reference
// user. Delta is nil exactly when NoInteraction is set or computation failed.
type UserDelta struct {
	UserID          string   `json:"userId"`
	Username        string   `json:"username"`
	Delta           *float64 `json:"delta"`
	NoInteraction   bool     `json:"-"`
	TotalEngagement float64  `json:"totalEngagement"`
}

// Valid reports whether d carries a usable, finite score.
func (d UserDelta) Valid() bool {
	return d.Delta != nil && !d.NoInteraction && !math.IsNaN(*d.Delta) && !math.IsInf(*d.Delta, 0)
}

// ComparisonResult is the ranked response of one comparison.
// MostSimilar and MostDifferent never share a user.
type ComparisonResult struct {
	MostSimilar   []UserDelta `json:"mostSimilar"`
	MostDifferent []UserDelta `json:"mostDifferent"`
	TotalUsers    int         `json:"totalUsers"`
	TotalEngaged  int         `json:"totalEngaged"`
	Message       string      `json:"message,omitempty"`
}

// EmptyResult returns a result with no entries that explains why.
func EmptyResult(message string) ComparisonResult {
	return ComparisonResult{
		MostSimilar:   []UserDelta{},
		MostDifferent: []UserDelta{},
		Message:       message,
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
