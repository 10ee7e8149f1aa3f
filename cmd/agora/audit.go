package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/models"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the decision audit trail",
	RunE:  runAudit,
}

var (
	auditTaskID  string
	auditLimit   int
	auditJournal string
)

func init() {
	auditCmd.Flags().StringVar(&auditTaskID, "task", "", "Only show entries for a task")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to show")
	auditCmd.Flags().StringVar(&auditJournal, "journal", "", "Read a LevelDB journal directly instead of the API")
}

func runAudit(cmd *cobra.Command, args []string) error {
	var entries []models.AuditEntry
	if auditJournal != "" {
		j, err := audit.OpenJournal(auditJournal)
		if err != nil {
			return err
		}
		defer j.Close()
		limit := auditLimit
		if auditTaskID != "" {
			limit = 0
		}
		all, err := j.Recent(limit)
		if err != nil {
			return err
		}
		for _, e := range all {
			if len(entries) == auditLimit {
				break
			}
			if auditTaskID == "" || e.TaskID == auditTaskID {
				entries = append(entries, e)
			}
		}
	} else {
		path := "/audit?limit=" + strconv.Itoa(auditLimit)
		if auditTaskID != "" {
			path += "&task_id=" + auditTaskID
		}
		if err := apiGetJSON(path, &entries); err != nil {
			return err
		}
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tTASK\tAGENT\tPAYLOAD")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.EventType,
			truncateID(e.TaskID), truncateID(e.AgentID), truncate(e.Payload, 60))
	}
	return w.Flush()
}
