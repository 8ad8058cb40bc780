package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"practicum/internal/evaluate"
	"practicum/internal/round"
	"practicum/internal/task"
)

var evaluateFlags struct {
	round int
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score all pending submissions for a round and report eligibility",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().IntVar(&evaluateFlags.round, "round", 1, "Round number to evaluate")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
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

	browser := evaluate.NewChromeBrowser(cmd.Context())
	defer browser.Close()
	harness := evaluate.NewHarness(st, browser,
		evaluate.WithSessionLimit(cfg.BrowserSessions),
		evaluate.WithCheckTimeout(cfg.CheckTimeout))

	gen := task.NewGenerator(st, set, cfg.CallbackURL)
	ctrl := round.NewController(st, gen, nil, harness,
		round.MeanThreshold(cfg.PassThreshold),
		round.WithParallelism(cfg.Workers))

	outcomes, err := ctrl.EvaluateRound(cmd.Context(), evaluateFlags.round)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	advanced := 0
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(out, "x %s: %v\n", o.Participant, o.Err)
			continue
		}
		mark := "-"
		if o.Advanced {
			mark = "+"
			advanced++
		}
		fmt.Fprintf(out, "%s %s: %d checks, advanced=%v\n",
			mark, o.Participant, len(o.Results), o.Advanced)
	}
	fmt.Fprintf(out, "\nRound %d: %d participants advanced, phase %s\n",
		evaluateFlags.round, advanced, ctrl.Phase())
	return nil
}
