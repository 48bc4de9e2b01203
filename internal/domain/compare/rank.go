package compare

import (
	"sort"

	"github.com/okian/divergence/internal/domain/model"
)

// Messages for comparisons that produced no ranked users.
const (
	MsgNoEngagement     = "No other users have engaged with these points yet"
	MsgNoSharedPoints   = "You haven't engaged with the same points as other users"
	MsgInsufficientData = "Unable to compute comparisons - insufficient shared engagement data"
)

// Rank splits deltas into the limit most similar users (lowest delta) and up
// to limit of the remaining most different users (highest delta). The two
// lists never share a user. Ties are broken by ascending user id.
func Rank(deltas []model.UserDelta, limit, totalEngaged int) model.ComparisonResult {
	valid := make([]model.UserDelta, 0, len(deltas))
	allNoInteraction := len(deltas) > 0
	for _, d := range deltas {
		if d.Valid() {
			valid = append(valid, d)
		}
		if !d.NoInteraction {
			allNoInteraction = false
		}
	}

	if len(valid) == 0 {
		var msg string
		switch {
		case totalEngaged == 0:
			msg = MsgNoEngagement
		case allNoInteraction:
			msg = MsgNoSharedPoints
		default:
			msg = MsgInsufficientData
		}
		res := model.EmptyResult(msg)
		res.TotalEngaged = totalEngaged
		return res
	}

	if limit < 0 {
		limit = 0
	}
	sort.Slice(valid, func(i, j int) bool {
		if *valid[i].Delta != *valid[j].Delta {
			return *valid[i].Delta < *valid[j].Delta
		}
		return valid[i].UserID < valid[j].UserID
	})

	n := min(limit, len(valid))
	similar := append([]model.UserDelta{}, valid[:n]...)

	rest := append([]model.UserDelta{}, valid[n:]...)
	sort.Slice(rest, func(i, j int) bool {
		if *rest[i].Delta != *rest[j].Delta {
			return *rest[i].Delta > *rest[j].Delta
		}
		return rest[i].UserID < rest[j].UserID
	})
	different := rest[:min(limit, len(rest))]

	return model.ComparisonResult{
		MostSimilar:   similar,
		MostDifferent: different,
		TotalUsers:    len(valid),
		TotalEngaged:  totalEngaged,
	}
}
