package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ineffable/internal/session"
	"ineffable/internal/title"
	"ineffable/internal/tui"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Open the interactive chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			// The chat owns the terminal, so logs go to a file
			logPath := filepath.Join(os.TempDir(), "ineffable.log")
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			prev := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: levelOf(a.cfg.LogLevel)})))
			defer slog.SetDefault(prev)

			refresher := title.New(a.remote, a.cfg.TitleRefreshDelay())
			defer refresher.Stop()

			ctrl := session.New(a.remote, session.WithTitleScheduler(refresher))

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			defer ctrl.Wait()
			return tui.Run(tui.Deps{
				Controller: ctrl,
				Directory:  a.remote,
				Titles:     refresher,
				Server:     a.url,
				ExportDir:  a.cfg.ExportDir,
				Color:      a.color,
			}, id)
		},
	}
}

func levelOf(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
