package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"practicum/internal/notify"
	"practicum/internal/round"
	"practicum/internal/task"
)

var issueFlags struct {
	round    int
	template string
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Generate and deliver tasks for a round to all eligible participants",
	RunE:  runIssue,
}

func init() {
	f := issueCmd.Flags()
	f.IntVar(&issueFlags.round, "round", 1, "Round number to issue")
	f.StringVar(&issueFlags.template, "template", "", "Template ID (round 1 only; default picks per participant)")
}

func runIssue(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	set, err := loadTemplates(cfg)
	if err != nil {
		return err
	}
	gen := task.NewGenerator(st, set, cfg.CallbackURL)
	notifier := notify.New(
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithBaseDelay(cfg.Notify.BaseDelay),
	)
	ctrl := round.NewController(st, gen, notifier, nil,
		round.MeanThreshold(cfg.PassThreshold),
		round.WithParallelism(cfg.Workers))

	outcomes, err := ctrl.IssueRound(cmd.Context(), issueFlags.round, issueFlags.template)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	issued, skipped, failed := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			skipped++
			fmt.Fprintf(out, "= %s (already has a round %d task)\n", o.Participant, issueFlags.round)
		case o.Err != nil:
			failed++
			fmt.Fprintf(out, "x %s: %v\n", o.Participant, o.Err)
		default:
			issued++
			fmt.Fprintf(out, "+ %s -> %s (HTTP %d after %d attempts)\n",
				o.Participant, o.TaskID, o.StatusCode, o.Attempts)
		}
	}
	fmt.Fprintf(out, "\nRound %d: %d issued, %d skipped, %d failed\n",
		issueFlags.round, issued, skipped, failed)
	return nil
}
