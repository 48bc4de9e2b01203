// Package scope resolves a comparison scope (a point, rationale, topic,
// space or user) to the seed points the comparison runs over.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Kind names a comparison scope.
type Kind string

// Scope kinds.
const (
	Point     Kind = "point"
	Rationale Kind = "rationale"
	Topic     Kind = "topic"
	Space     Kind = "space"
	User      Kind = "user"
)

// Kinds lists every scope kind.
var Kinds = []Kind{Point, Rationale, Topic, Space, User}

// ErrUnknownKind is returned for an unrecognised scope name.
var ErrUnknownKind = errors.New("unknown scope")

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MultiRoot reports whether comparisons in this scope may span several
// clusters. Point comparisons always resolve to one root.
func (k Kind) MultiRoot() bool {
	return k != Point
}

// NoEngagementMessage is returned when the reference user has not engaged
// with any seed point of the scope.
func (k Kind) NoEngagementMessage() string {
	switch k {
	case Point:
		return "You haven't engaged with this point yet"
	case User:
		return "You haven't engaged with any points created by this user yet"
	default:
		return fmt.Sprintf("You haven't engaged with any points in this %s yet", k)
	}
}

// Messages for scopes that resolve to no seed points.
const (
	MsgEmptyRationale = "No points found in rationale - bridge table may need to be populated"
	MsgEmptyTopic     = "No valid points found in topic rationales"
	MsgEmptyUser      = "Target user has not created any points yet"
	MsgEmptySpace     = "No points or rationales found in this space yet"
)

// Reader is the store surface scope resolution needs.
type Reader interface {
	AuthoredPoints(ctx context.Context, userID string) ([]string, error)
	SpacePoints(ctx context.Context, spaceID string) ([]string, error)
	SpaceRationales(ctx context.Context, spaceID string) ([]string, error)
	TopicRationales(ctx context.Context, topicID string) ([]string, error)
	RationalePoints(ctx context.Context, rationaleIDs []string) ([]string, error)
}

// Seeds is a resolved scope. When Message is set the comparison ends there
// with an empty result.
type Seeds struct {
	PointIDs []string
	Message  string
}

// Terminal reports whether the scope produced no seeds.
func (s Seeds) Terminal() bool {
	return s.Message != ""
}

// Resolver maps scope ids to seed points.
type Resolver struct {
	reader Reader
}

// NewResolver returns a Resolver reading from r.
func NewResolver(r Reader) *Resolver {
	return &Resolver{reader: r}
}

// Resolve returns the de-duplicated, ascending seed points of scope kind/id.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, id string) (Seeds, error) {
	switch kind {
	case Point:
		return Seeds{PointIDs: []string{id}}, nil
	case Rationale:
		pts, err := r.reader.RationalePoints(ctx, []string{id})
		if err != nil {
			return Seeds{}, fmt.Errorf("rationale points: %w", err)
		}
		return seeds(pts, MsgEmptyRationale), nil
	case Topic:
		rats, err := r.reader.TopicRationales(ctx, id)
		if err != nil {
			return Seeds{}, fmt.Errorf("topic rationales: %w", err)
		}
		if len(rats) == 0 {
			return seeds(nil, MsgEmptyTopic), nil
		}
		pts, err := r.reader.RationalePoints(ctx, rats)
		if err != nil {
			return Seeds{}, fmt.Errorf("topic rationale points: %w", err)
		}
		return seeds(pts, MsgEmptyTopic), nil
	case User:
		pts, err := r.reader.AuthoredPoints(ctx, id)
		if err != nil {
			return Seeds{}, fmt.Errorf("authored points: %w", err)
		}
		return seeds(pts, MsgEmptyUser), nil
	case Space:
		owned, err := r.reader.SpacePoints(ctx, id)
		if err != nil {
			return Seeds{}, fmt.Errorf("space points: %w", err)
		}
		rats, err := r.reader.SpaceRationales(ctx, id)
		if err != nil {
			return Seeds{}, fmt.Errorf("space rationales: %w", err)
		}
		var referenced []string
		if len(rats) > 0 {
			referenced, err = r.reader.RationalePoints(ctx, rats)
			if err != nil {
				return Seeds{}, fmt.Errorf("space rationale points: %w", err)
			}
		}
		return seeds(append(owned, referenced...), MsgEmptySpace), nil
	default:
		return Seeds{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func seeds(ids []string, emptyMsg string) Seeds {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return Seeds{PointIDs: []string{}, Message: emptyMsg}
	}
	sort.Strings(out)
	return Seeds{PointIDs: out}
}
