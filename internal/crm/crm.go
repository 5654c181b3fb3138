// Package crm reads jobs from the business's system of record. Access is read-only.
package crm

import (
	"context"
	"sort"
	"time"
)

// Job is a unit of work created in the system of record, typically after a booking call.
type Job struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	ClientID   string    `json:"client_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobSource lists jobs created in [from, to], both ends inclusive.
type JobSource interface {
	JobsCreatedBetween(ctx context.Context, from, to time.Time) ([]Job, error)
}

// SortByCreation orders jobs by creation time, then id.
func SortByCreation(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// StaticJobSource serves a fixed job list. It backs tests and dry runs.
type StaticJobSource struct {
	Jobs []Job
	Err  error
}

func (s *StaticJobSource) JobsCreatedBetween(ctx context.Context, from, to time.Time) ([]Job, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Job, 0)
	for _, j := range s.Jobs {
		if j.CreatedAt.Before(from) || j.CreatedAt.After(to) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}
