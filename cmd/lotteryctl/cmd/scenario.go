package cmd

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jswmusik/jobbeli/internal/model"
	"github.com/jswmusik/jobbeli/internal/store"
)

// scenario is the YAML description of a group and everything applied to it.
type scenario struct {
	// Now is the reference time for age checks (RFC 3339); defaults to the
	// current time.
	Now  string `yaml:"now"`
	Seed *int64 `yaml:"seed"`

	Group struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		MinAge *int   `yaml:"min_age"`
		MaxAge *int   `yaml:"max_age"`
	} `yaml:"group"`

	Jobs []struct {
		ID         string            `yaml:"id"`
		Title      string            `yaml:"title"`
		Spots      int               `yaml:"spots"`
		Status     string            `yaml:"status"`
		MinGrade   string            `yaml:"min_grade"`
		MaxGrade   string            `yaml:"max_grade"`
		Attributes map[string]string `yaml:"required_attributes"`
	} `yaml:"jobs"`

	Youth []struct {
		ID          string            `yaml:"id"`
		Email       string            `yaml:"email"`
		DateOfBirth string            `yaml:"date_of_birth"`
		Grade       string            `yaml:"grade"`
		Attributes  map[string]string `yaml:"attributes"`
	} `yaml:"youth"`

	Applications []struct {
		ID     string `yaml:"id"`
		Youth  string `yaml:"youth"`
		Job    string `yaml:"job"`
		Rank   *int   `yaml:"rank"`
		Status string `yaml:"status"`
	} `yaml:"applications"`
}

func loadScenario(path string) (*scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sc, nil
}

// snapshot converts the scenario to the view a run works from.
func (sc *scenario) snapshot() (*store.Snapshot, time.Time, error) {
	now := time.Now().UTC()
	if sc.Now != "" {
		t, err := time.Parse(time.RFC3339, sc.Now)
		if err != nil {
			return nil, now, fmt.Errorf("now: %w", err)
		}
		now = t
	}

	if sc.Group.ID == "" {
		return nil, now, fmt.Errorf("group.id is required")
	}
	g := model.JobGroup{ID: sc.Group.ID, Name: sc.Group.Name, MinAge: model.DefaultMinAge, MaxAge: model.DefaultMaxAge}
	if sc.Group.MinAge != nil {
		g.MinAge = *sc.Group.MinAge
	}
	if sc.Group.MaxAge != nil {
		g.MaxAge = *sc.Group.MaxAge
	}
	snap := &store.Snapshot{Group: g, Youth: make(map[string]model.Youth)}

	for _, j := range sc.Jobs {
		status := model.JobPublished
		if j.Status != "" {
			status = model.JobStatus(j.Status)
		}
		snap.Jobs = append(snap.Jobs, model.Job{
			ID:                 j.ID,
			GroupID:            g.ID,
			Title:              j.Title,
			TotalSpots:         j.Spots,
			Status:             status,
			Type:               model.JobTypeLottery,
			MinGrade:           model.Grade(j.MinGrade),
			MaxGrade:           model.Grade(j.MaxGrade),
			RequiredAttributes: j.Attributes,
		})
	}

	for _, y := range sc.Youth {
		youth := model.Youth{ID: y.ID, Email: y.Email, Grade: model.Grade(y.Grade), Attributes: y.Attributes}
		if y.DateOfBirth != "" {
			dob, err := time.Parse("2006-01-02", y.DateOfBirth)
			if err != nil {
				return nil, now, fmt.Errorf("youth %s date_of_birth: %w", y.ID, err)
			}
			youth.DateOfBirth = &dob
		}
		snap.Youth[y.ID] = youth
	}

	for i, a := range sc.Applications {
		status := model.AppPending
		if a.Status != "" {
			st, err := model.ParseApplicationStatus(a.Status)
			if err != nil {
				return nil, now, fmt.Errorf("application %s: %w", a.ID, err)
			}
			status = st
		}
		if !status.IsPreLottery() {
			continue
		}
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("%s:%s", a.Youth, a.Job)
		}
		snap.Applications = append(snap.Applications, model.Application{
			ID:           id,
			YouthID:      a.Youth,
			JobID:        a.Job,
			Status:       status,
			PriorityRank: a.Rank,
			// File order stands in for creation time.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	store.SortApplications(snap.Applications)
	return snap, now, nil
}
