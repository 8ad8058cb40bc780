package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"practicum/internal/secrets"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the participant registry",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Import participants from a registration CSV (timestamp,email,endpoint,secret)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRosterImport,
}

var rosterAddFlags struct {
	endpoint string
	secret   string
}

var rosterAddCmd = &cobra.Command{
	Use:   "add <participant-id>",
	Short: "Register a single participant",
	Args:  cobra.ExactArgs(1),
	RunE:  runRosterAdd,
}

var rosterRemoveCmd = &cobra.Command{
	Use:   "remove <participant-id>",
	Short: "Remove a participant registration",
	Args:  cobra.ExactArgs(1),
	RunE:  runRosterRemove,
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered participants",
	RunE:  runRosterList,
}

func init() {
	f := rosterAddCmd.Flags()
	f.StringVar(&rosterAddFlags.endpoint, "endpoint", "", "Participant build endpoint URL (required)")
	f.StringVar(&rosterAddFlags.secret, "secret", "", "Shared secret (required)")
	_ = rosterAddCmd.MarkFlagRequired("endpoint")
	_ = rosterAddCmd.MarkFlagRequired("secret")

	rosterCmd.AddCommand(rosterImportCmd)
	rosterCmd.AddCommand(rosterAddCmd)
	rosterCmd.AddCommand(rosterRemoveCmd)
	rosterCmd.AddCommand(rosterListCmd)
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open roster %s: %w", args[0], err)
	}
	defer f.Close()

	n, err := secrets.NewRegistry(st).ImportRoster(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %d participants\n", n)
	return nil
}

func runRosterAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := secrets.NewRegistry(st).Register(args[0], rosterAddFlags.endpoint, rosterAddFlags.secret); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", args[0])
	return nil
}

func runRosterRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := secrets.NewRegistry(st).Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func runRosterList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	participants, err := st.ListParticipants()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range participants {
		fmt.Fprintf(out, "%s\t%s\n", p.ID, p.Endpoint)
	}
	fmt.Fprintf(out, "\n%d participants\n", len(participants))
	return nil
}
