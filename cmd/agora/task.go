package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details and assignment",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel an open task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskBidCmd = &cobra.Command{
	Use:   "bid [task-id] [agent-id]",
	Short: "Evaluate one agent's bid decision",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskBid,
}

var taskBidsCmd = &cobra.Command{
	Use:   "bids [task-id]",
	Short: "Evaluate every active agent's bid decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskBids,
}

var taskAwardCmd = &cobra.Command{
	Use:   "award [task-id]",
	Short: "Award a task to the lowest bidder",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAward,
}

var taskTeamCmd = &cobra.Command{
	Use:   "team [task-id]",
	Short: "Select a team for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskTeam,
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign [task-id]",
	Short: "Assign a task by auction or team selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAssign,
}

var taskExecuteCmd = &cobra.Command{
	Use:   "execute [task-id]",
	Short: "Execute an assigned task and apply learning",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskExecute,
}

var taskRunsCmd = &cobra.Command{
	Use:   "runs [task-id]",
	Short: "Show execution attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRuns,
}

var (
	taskTitle      string
	taskDesc       string
	taskCaps       []string
	taskReward     float64
	taskMinRep     int
	taskComplexity int
	taskUrgency    int
	taskMinBid     float64
	taskMaxBid     float64
	taskStatus     string
	teamMaxSize    int
	teamAssign     bool
	execTimeout    time.Duration
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskCancelCmd, taskBidCmd, taskBidsCmd,
		taskAwardCmd, taskTeamCmd, taskAssignCmd, taskExecuteCmd, taskRunsCmd)

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringSliceVar(&taskCaps, "cap", nil, "Required capabilities (required)")
	taskAddCmd.Flags().Float64Var(&taskReward, "reward", 0, "Reward offered")
	taskAddCmd.Flags().IntVar(&taskMinRep, "min-reputation", 0, "Minimum reputation to bid")
	taskAddCmd.Flags().IntVar(&taskComplexity, "complexity", 50, "Complexity in [0,100]")
	taskAddCmd.Flags().IntVar(&taskUrgency, "urgency", 50, "Urgency in [0,100]")
	taskAddCmd.Flags().Float64Var(&taskMinBid, "min-bid", 0, "Lowest acceptable bid")
	taskAddCmd.Flags().Float64Var(&taskMaxBid, "max-bid", 0, "Highest acceptable bid")
	taskAddCmd.MarkFlagRequired("title")
	taskAddCmd.MarkFlagRequired("cap")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (open, assigned, completed, failed, cancelled)")

	taskTeamCmd.Flags().IntVar(&teamMaxSize, "max-size", 0, "Maximum team size (default from config)")
	taskTeamCmd.Flags().BoolVar(&teamAssign, "assign", false, "Assign the selected team")

	taskExecuteCmd.Flags().DurationVar(&execTimeout, "timeout", 5*time.Minute, "How long to wait for the executor")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	body := models.Task{
		Title:                taskTitle,
		Description:          taskDesc,
		RequiredCapabilities: taskCaps,
		Reward:               taskReward,
		MinReputation:        taskMinRep,
		Complexity:           taskComplexity,
		Urgency:              taskUrgency,
		MinBid:               taskMinBid,
		MaxBid:               taskMaxBid,
	}

	var task models.Task
	if err := apiPostJSON("/tasks", body, &task); err != nil {
		return err
	}
	fmt.Printf("Created task: %s\n", task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks"
	if taskStatus != "" {
		url += "?status=" + taskStatus
	}

	var tasks []models.Task
	if err := apiGetJSON(url, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tREWARD\tSKILLS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			truncateID(t.ID), truncate(t.Title, 40), t.Status, t.Reward,
			strings.Join(t.RequiredCapabilities, ","))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var task models.Task
	if err := apiGetJSON("/tasks/"+args[0], &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Title:       %s\n", task.Title)
	fmt.Printf("Description: %s\n", task.Description)
	fmt.Printf("Status:      %s\n", task.Status)
	fmt.Printf("Skills:      %s\n", strings.Join(task.RequiredCapabilities, ", "))
	fmt.Printf("Reward:      %.2f\n", task.Reward)
	fmt.Printf("Bid Range:   [%.2f, %.2f]\n", task.MinBid, task.MaxBid)
	fmt.Printf("Complexity:  %d\n", task.Complexity)
	fmt.Printf("Urgency:     %d\n", task.Urgency)
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", task.UpdatedAt.Format(time.RFC3339))

	if task.Status == models.TaskStatusOpen || task.Status == models.TaskStatusCancelled {
		return nil
	}
	var ta models.TeamAssignment
	if err := apiGetJSON("/tasks/"+args[0]+"/assignment", &ta); err != nil {
		return err
	}
	fmt.Println()
	printAssignment(ta)
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/cancel", nil); err != nil {
		return err
	}
	fmt.Printf("Cancelled task %s\n", args[0])
	return nil
}

func runTaskBid(cmd *cobra.Command, args []string) error {
	var bid models.Bid
	if err := apiGetJSON("/tasks/"+args[0]+"/bids/"+args[1], &bid); err != nil {
		return err
	}
	printBids([]models.Bid{bid})
	return nil
}

func runTaskBids(cmd *cobra.Command, args []string) error {
	var bids []models.Bid
	if err := apiGetJSON("/tasks/"+args[0]+"/bids", &bids); err != nil {
		return err
	}
	if len(bids) == 0 {
		fmt.Println("No active agents")
		return nil
	}
	printBids(bids)
	return nil
}

func runTaskAward(cmd *cobra.Command, args []string) error {
	var ta models.TeamAssignment
	if err := apiPostJSON("/tasks/"+args[0]+"/award", nil, &ta); err != nil {
		return err
	}
	printAssignment(ta)
	return nil
}

func runTaskTeam(cmd *cobra.Command, args []string) error {
	path := "/tasks/" + args[0] + "/team"
	if teamMaxSize > 0 {
		path += "?max_size=" + strconv.Itoa(teamMaxSize)
	}

	var ta models.TeamAssignment
	var err error
	if teamAssign {
		err = apiPostJSON(path, nil, &ta)
	} else {
		err = apiGetJSON(path, &ta)
	}
	if err != nil {
		return err
	}
	if len(ta.Members) == 0 {
		fmt.Printf("No team: %s\n", ta.Reason)
		return nil
	}
	printAssignment(ta)
	return nil
}

func runTaskAssign(cmd *cobra.Command, args []string) error {
	var ta models.TeamAssignment
	if err := apiPostJSON("/tasks/"+args[0]+"/assign", nil, &ta); err != nil {
		return err
	}
	printAssignment(ta)
	return nil
}

func runTaskExecute(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: execTimeout}
	var resp []byte
	err := withSpinner("Executing "+truncateID(args[0]), func() error {
		var err error
		resp, err = apiDo(client, http.MethodPost, "/tasks/"+args[0]+"/execute", nil)
		return err
	})
	if err != nil {
		return err
	}
	var result controlplane.ExecutionResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if result.Task != nil {
		fmt.Printf("Task:    %s (%s)\n", result.Task.ID, renderStatus(result.Task.Status))
	}
	if result.Run != nil {
		fmt.Printf("Run:     %s\n", result.Run.ID)
		fmt.Printf("Score:   %d\n", result.Run.OverallScore)
		for tag, score := range result.Run.TagScores {
			fmt.Printf("  %-12s %d\n", tag, score)
		}
	}
	for _, lr := range result.Learning {
		if lr.Error != "" {
			fmt.Printf("Learning %s: %s\n", lr.AgentID, lr.Error)
			continue
		}
		fmt.Printf("Learning %s: applied\n", lr.AgentID)
	}
	return nil
}

func runTaskRuns(cmd *cobra.Command, args []string) error {
	var runs []models.Run
	if err := apiGetJSON("/tasks/"+args[0]+"/runs", &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	for i, run := range runs {
		fmt.Printf("=== Run %d ===\n", i+1)
		fmt.Printf("ID:       %s\n", run.ID)
		fmt.Printf("Executor: %s\n", run.Executor)
		fmt.Printf("Agents:   %s\n", strings.Join(run.AgentIDs, ", "))
		fmt.Printf("Outcome:  %s\n", run.Outcome)
		fmt.Printf("Score:    %d\n", run.OverallScore)
		fmt.Printf("Started:  %s\n", run.StartedAt.Format(time.RFC3339))
		if run.Error != "" {
			fmt.Printf("Error:    %s\n", run.Error)
		}
		if run.Result != "" {
			fmt.Println("Result:", truncate(run.Result, 200))
		}
		fmt.Println()
	}
	return nil
}

// --- Helpers ---

func printBids(bids []models.Bid) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSUBMIT\tAMOUNT\tUTILITY\tREASON")
	for _, b := range bids {
		amount := "-"
		if b.Submit {
			amount = fmt.Sprintf("%.2f", b.Amount)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%.1f\t%s\n", truncateID(b.AgentID), b.Submit, amount, b.Utility, b.Reason)
	}
	w.Flush()
}

func printAssignment(ta models.TeamAssignment) {
	fmt.Printf("Mode:     %s\n", ta.Mode)
	fmt.Printf("Coverage: %.0f%%\n", ta.CoverageRatio*100)
	if ta.Reason != "" {
		fmt.Printf("Reason:   %s\n", ta.Reason)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tROLE\tSCORE\tBID")
	for _, m := range ta.Members {
		bid := "-"
		if m.BidAmount > 0 {
			bid = fmt.Sprintf("%.2f", m.BidAmount)
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\n", truncateID(m.AgentID), m.Role, m.Score, bid)
	}
	w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
