package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/models"
)

var learnCmd = &cobra.Command{
	Use:   "learn [agent-id] [task-id]",
	Short: "Apply a learning event to an agent",
	Long: `Applies externally evaluated feedback for one agent and task. Each
(agent, task) pair is accepted once; replays are rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: runLearn,
}

var (
	learnScore  int
	learnReward float64
	learnTags   map[string]int
	learnCaps   []string
)

func init() {
	learnCmd.Flags().IntVar(&learnScore, "score", 0, "Overall score in [0,100] (required)")
	learnCmd.Flags().Float64Var(&learnReward, "reward", 0, "Reward earned")
	learnCmd.Flags().StringToIntVar(&learnTags, "tag", nil, "Per-skill scores, e.g. --tag go=90")
	learnCmd.Flags().StringSliceVar(&learnCaps, "cap", nil, "Task capabilities for the preference update")
	learnCmd.MarkFlagRequired("score")
}

func runLearn(cmd *cobra.Command, args []string) error {
	ev := models.LearningEvent{
		AgentID:              args[0],
		TaskID:               args[1],
		Score:                learnScore,
		Reward:               learnReward,
		TagScores:            learnTags,
		RequiredCapabilities: learnCaps,
	}

	var result controlplane.LearningResult
	if err := apiPostJSON("/learning", ev, &result); err != nil {
		return err
	}

	fmt.Printf("Applied learning to %s\n", result.AgentID)
	if result.Delta == nil {
		return nil
	}
	d := result.Delta
	tags := make([]string, 0, len(d.Capabilities))
	for tag := range d.Capabilities {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		c := d.Capabilities[tag]
		fmt.Printf("  %-14s %3.0f -> %3.0f\n", tag, c.Before, c.After)
	}
	fmt.Printf("  %-14s %.2f\n", "trailing avg", d.TrailingAverage)
	fmt.Printf("  %-14s %.3f -> %.3f\n", "confidence", d.Confidence.Before, d.Confidence.After)
	fmt.Printf("  %-14s %.3f -> %.3f\n", "risk", d.RiskTolerance.Before, d.RiskTolerance.After)
	fmt.Printf("  %-14s %.3f -> %.3f\n", "sensitivity", d.WorkloadSensitivity.Before, d.WorkloadSensitivity.After)
	fmt.Printf("  %-14s %.3f -> %.3f\n", "exploration", d.ExplorationRate.Before, d.ExplorationRate.After)
	if d.PreferenceKey != "" {
		fmt.Printf("  %-14s %.1f -> %.1f (%s)\n", "preference", d.Preference.Before, d.Preference.After, d.PreferenceKey)
	}
	return nil
}
