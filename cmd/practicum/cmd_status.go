package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusFlags struct {
	round int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show round progress: tasks issued, submissions received, results",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusFlags.round, "round", 1, "Round number")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListTasksByRound(statusFlags.round)
	if err != nil {
		return err
	}
	subs, err := st.ListSubmissionsByRound(statusFlags.round)
	if err != nil {
		return err
	}
	pending, err := st.ListUnevaluatedSubmissions(statusFlags.round)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Round:       %d\n", statusFlags.round)
	fmt.Fprintf(out, "Tasks:       %d issued\n", len(tasks))
	delivered := 0
	for _, t := range tasks {
		if t.StatusCode >= 200 && t.StatusCode < 300 {
			delivered++
		}
	}
	fmt.Fprintf(out, "Delivered:   %d/%d\n", delivered, len(tasks))
	fmt.Fprintf(out, "Submissions: %d received, %d awaiting evaluation\n", len(subs), len(pending))

	for _, s := range subs {
		results, err := st.ListResultsBySubmission(s.ID)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintf(out, "  %s (%s): not evaluated\n", s.Participant, s.TaskID)
			continue
		}
		total := 0.0
		for _, r := range results {
			total += r.Score
		}
		fmt.Fprintf(out, "  %s (%s): %d checks, mean %.2f\n",
			s.Participant, s.TaskID, len(results), total/float64(len(results)))
	}
	return nil
}
