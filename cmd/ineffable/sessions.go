package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/spf13/cobra"

	"ineffable/internal/attach"
	"ineffable/internal/export"
	"ineffable/internal/render"
	"ineffable/internal/session"
	"ineffable/internal/transcript"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.remote.ListSessions(ctx)
			if err != nil {
				return err
			}
			render.SessionsTable(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			title := strings.Join(args, " ")
			if title == "" {
				title = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano()).Generate()
			}
			info, err := a.remote.CreateSession(ctx, title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", info.ID, info.Title)
			return nil
		},
	}
}

// loadTurns fetches and reconciles the history of one session
func loadTurns(ctx context.Context, a *app, id string) ([]transcript.Turn, error) {
	records, err := a.remote.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return transcript.Reconcile(records), nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := loadTurns(ctx, a, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, render.Turns(turns, render.TerminalWidth(out), a.color))
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "send <session-id> <prompt...>",
		Short: "Send a prompt and print the response",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var atts []attach.Attachment
			for _, p := range paths {
				att, err := attach.Load(p)
				if err != nil {
					return err
				}
				atts = append(atts, att)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctrl := session.New(a.remote)
			ctrl.Open(ctx, args[0])
			if err := ctrl.Submit(attach.Compose(strings.Join(args[1:], " "), atts)); err != nil {
				return err
			}

			select {
			case <-ctrl.Done():
			case <-ctx.Done():
				ctrl.Cancel()
				<-ctrl.Done()
			}
			ctrl.Wait()

			turns := ctrl.Snapshot()
			last := turns[len(turns)-1]
			out := cmd.OutOrStdout()
			fmt.Fprint(out, render.New(render.TerminalWidth(out), a.color).Turn(last))
			if last.Status == transcript.StatusError {
				return errors.New("response did not complete")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&paths, "attach", "a", nil, "attach a file or directory (repeatable)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session transcript to a markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.remote.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			turns, err := loadTurns(ctx, a, args[0])
			if err != nil {
				return err
			}

			if dir == "" {
				dir = a.cfg.ExportDir
			}
			if dir == "" {
				dir = "."
			}
			path, err := export.Write(export.Meta{
				ID:        info.ID,
				Title:     info.Title,
				Server:    a.url,
				CreatedAt: info.CreatedAt,
			}, turns, dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory")
	return cmd
}
