package repository

import (
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okian/divergence/internal/domain/model"
)

// Fixtures is the YAML document loaded into a MemoryStore.
type Fixtures struct {
	Users []struct {
		ID       string `yaml:"id"`
		Username string `yaml:"username"`
	} `yaml:"users"`
	Points []struct {
		ID        string `yaml:"id"`
		SpaceID   string `yaml:"space"`
		CreatedBy string `yaml:"created_by"`
		Root      string `yaml:"root"`
	} `yaml:"points"`
	Rationales []struct {
		ID      string   `yaml:"id"`
		SpaceID string   `yaml:"space"`
		TopicID string   `yaml:"topic"`
		Points  []string `yaml:"points"`
	} `yaml:"rationales"`
	Endorsements []struct {
		Point string  `yaml:"point"`
		User  string  `yaml:"user"`
		Cred  float64 `yaml:"cred"`
	} `yaml:"endorsements"`
	Snapshots []struct {
		Day     string  `yaml:"day"`
		User    string  `yaml:"user"`
		Point   string  `yaml:"point"`
		Endorse float64 `yaml:"endorse"`
		Restake float64 `yaml:"restake"`
		Doubt   float64 `yaml:"doubt"`
	} `yaml:"snapshots"`
}

// LoadFixtures reads a fixtures file into a new MemoryStore.
func LoadFixtures(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return ReadFixtures(f)
}

// ReadFixtures decodes a fixtures document into a new MemoryStore.
func ReadFixtures(r io.Reader) (*MemoryStore, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %w", ErrFixtures, err)
	}

	s := NewMemoryStore()
	for _, u := range fx.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: user without id", ErrFixtures)
		}
		s.AddUser(model.User{ID: u.ID, Username: u.Username})
	}
	for _, p := range fx.Points {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: point without id", ErrFixtures)
		}
		s.AddPoint(model.Point{ID: p.ID, SpaceID: p.SpaceID, CreatedBy: p.CreatedBy})
		if p.Root != "" {
			s.AddClusterMembership(model.ClusterMembership{PointID: p.ID, RootID: p.Root})
		}
	}
	for _, r := range fx.Rationales {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rationale without id", ErrFixtures)
		}
		s.AddRationale(model.Rationale{ID: r.ID, SpaceID: r.SpaceID, TopicID: r.TopicID, PointIDs: r.Points})
	}
	for _, e := range fx.Endorsements {
		if err := checkWeight("cred", e.Cred); err != nil {
			return nil, fmt.Errorf("%w: %w for %s on %s", ErrFixtures, err, e.User, e.Point)
		}
		s.AddEndorsement(model.Endorsement{PointID: e.Point, UserID: e.User, Cred: e.Cred})
	}
	for _, row := range fx.Snapshots {
		day, err := model.ParseDay(row.Day)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFixtures, err)
		}
		for name, w := range map[string]float64{"endorse": row.Endorse, "restake": row.Restake, "doubt": row.Doubt} {
			if err := checkWeight(name, w); err != nil {
				return nil, fmt.Errorf("%w: %w for %s on %s at %s", ErrFixtures, err, row.User, row.Point, row.Day)
			}
		}
		s.AddSnapshot(model.EngagementSnapshot{
			SnapDay:       day,
			UserID:        row.User,
			PointID:       row.Point,
			EndorseWeight: row.Endorse,
			RestakeWeight: row.Restake,
			DoubtWeight:   row.Doubt,
		})
	}
	return s, nil
}

// checkWeight rejects weights that are negative or not finite.
func checkWeight(name string, w float64) error {
	switch {
	case math.IsNaN(w) || math.IsInf(w, 0):
		return fmt.Errorf("non-finite %s %v", name, w)
	case w < 0:
		return fmt.Errorf("negative %s %v", name, w)
	}
	return nil
}
