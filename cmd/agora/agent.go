package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/models"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new agent",
	RunE:  runAgentRegister,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE:  runAgentList,
}

var agentShowCmd = &cobra.Command{
	Use:   "show [agent-id]",
	Short: "Show agent details",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentShow,
}

var agentDeactivateCmd = &cobra.Command{
	Use:   "deactivate [agent-id]",
	Short: "Stop an agent from bidding or joining teams",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentDeactivate,
}

var (
	agentID          string
	agentName        string
	agentRole        string
	agentCaps        map[string]int
	agentReputation  int
	agentExploration float64
	agentMinUtility  float64
	agentMaxWorkload int
	agentActiveOnly  bool
)

func init() {
	agentCmd.AddCommand(agentRegisterCmd, agentListCmd, agentShowCmd, agentDeactivateCmd)

	agentRegisterCmd.Flags().StringVar(&agentID, "id", "", "Agent ID (default generated)")
	agentRegisterCmd.Flags().StringVar(&agentName, "name", "", "Display name")
	agentRegisterCmd.Flags().StringVar(&agentRole, "role", string(models.RoleWorker), "Role (coordinator, worker, evaluator)")
	agentRegisterCmd.Flags().StringToIntVar(&agentCaps, "cap", nil, "Capability weights, e.g. --cap go=90,parsing=70")
	agentRegisterCmd.Flags().IntVar(&agentReputation, "reputation", 0, "Initial reputation (default from config)")
	agentRegisterCmd.Flags().Float64Var(&agentExploration, "exploration", 0, "Exploration rate (default from config)")
	agentRegisterCmd.Flags().Float64Var(&agentMinUtility, "min-utility", 0, "Minimum utility to bid (default from config)")
	agentRegisterCmd.Flags().IntVar(&agentMaxWorkload, "max-workload", 0, "Maximum concurrent tasks (default from config)")

	agentListCmd.Flags().BoolVar(&agentActiveOnly, "active", false, "Only list active agents")
}

func runAgentRegister(cmd *cobra.Command, args []string) error {
	spec := controlplane.AgentSpec{
		ID:           agentID,
		Name:         agentName,
		Role:         models.Role(agentRole),
		Capabilities: agentCaps,
	}
	flags := cmd.Flags()
	if flags.Changed("reputation") {
		spec.Reputation = &agentReputation
	}
	if flags.Changed("exploration") {
		spec.ExplorationRate = &agentExploration
	}
	if flags.Changed("min-utility") {
		spec.MinUtilityThreshold = &agentMinUtility
	}
	if flags.Changed("max-workload") {
		spec.MaxWorkload = &agentMaxWorkload
	}

	var agent models.Agent
	if err := apiPostJSON("/agents", spec, &agent); err != nil {
		return err
	}
	fmt.Printf("Registered agent: %s\n", agent.ID)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	path := "/agents"
	if agentActiveOnly {
		path += "?active=true"
	}
	var agents []models.Agent
	if err := apiGetJSON(path, &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE\tREP\tLOAD\tSKILLS")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d/%d\t%s\n",
			truncateID(a.ID), truncate(a.Name, 20), a.Role, a.Active,
			a.Reputation, a.Workload, a.MaxWorkload, formatSkills(a))
	}
	return w.Flush()
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	var a models.Agent
	if err := apiGetJSON("/agents/"+args[0], &a); err != nil {
		return err
	}

	fmt.Printf("ID:           %s\n", a.ID)
	fmt.Printf("Name:         %s\n", a.Name)
	fmt.Printf("Role:         %s\n", a.Role)
	fmt.Printf("Active:       %v\n", a.Active)
	fmt.Printf("Reputation:   %d\n", a.Reputation)
	fmt.Printf("Workload:     %d/%d\n", a.Workload, a.MaxWorkload)
	fmt.Printf("Completed:    %d\n", a.TasksCompleted)
	fmt.Printf("Skills:       %s\n", formatSkills(a))
	fmt.Printf("Confidence:   %.3f\n", a.ConfidenceFactor)
	fmt.Printf("Risk:         %.3f\n", a.RiskTolerance)
	fmt.Printf("Sensitivity:  %.3f\n", a.WorkloadSensitivity)
	fmt.Printf("Exploration:  %.3f\n", a.ExplorationRate)
	fmt.Printf("Min Utility:  %.1f\n", a.MinUtilityThreshold)
	for key, v := range a.TaskTypePreferences {
		fmt.Printf("Preference:   %s = %.1f\n", key, v)
	}
	if len(a.RecentScores) > 0 {
		fmt.Printf("Recent:       %v\n", a.RecentScores)
	}
	fmt.Printf("Version:      %d\n", a.Version)
	return nil
}

func runAgentDeactivate(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/agents/"+args[0]+"/deactivate", nil); err != nil {
		return err
	}
	fmt.Printf("Deactivated agent %s\n", args[0])
	return nil
}

func formatSkills(a models.Agent) string {
	skills := a.Capabilities.Skills()
	parts := make([]string, len(skills))
	for i, s := range skills {
		parts[i] = fmt.Sprintf("%s=%d", s, a.Capabilities.Get(s))
	}
	return strings.Join(parts, ",")
}
