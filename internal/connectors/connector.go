// Package connectors defines the execution oracle interface for agora.
package connectors

import (
	"context"
	"strings"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
)

// Request is what an executor receives for one attempt.
type Request struct {
	Task    models.Task         `json:"task"`
	Members []models.TeamMember `json:"members"`
}

// Outcome holds the oracle's evaluation of completed work.
type Outcome struct {
	Result       string         `json:"result"`
	OverallScore int            `json:"overall_score"`
	TagScores    map[string]int `json:"tag_scores"`
}

// Normalize lower-cases skill tags and clamps every score to [0,100].
func (o *Outcome) Normalize() {
	o.OverallScore = capability.Clamp(o.OverallScore)
	tags := make(map[string]int, len(o.TagScores))
	for tag, score := range o.TagScores {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		tags[tag] = capability.Clamp(score)
	}
	o.TagScores = tags
}

// Executor runs an assigned task and evaluates the result. Errors are
// models.Error values of kind transient or permanent.
type Executor interface {
	// Name returns the executor identifier.
	Name() string

	// Execute performs the task and returns its evaluated outcome.
	Execute(ctx context.Context, req Request) (*Outcome, error)
}
