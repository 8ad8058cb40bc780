package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"practicum/internal/forge"
	"practicum/internal/httpapi"
	"practicum/internal/notify"
	"practicum/internal/secrets"
	"practicum/internal/submit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP surface: builder endpoints, submission intake, artifacts",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []httpapi.Option{httpapi.WithArtifactDir(cfg.ArtifactDir)}
	if cfg.ForwardURL != "" {
		opts = append(opts, httpapi.WithForwardURL(cfg.ForwardURL))
	}
	srv := httpapi.NewServer(
		submit.NewValidator(st),
		secrets.NewRegistry(st),
		forge.NewStaticGenerator(),
		forge.NewDirPublisher(cfg.ArtifactDir, cfg.PublicBaseURL),
		notify.New(
			notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
			notify.WithBaseDelay(cfg.Notify.BaseDelay),
		),
		opts...,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}
