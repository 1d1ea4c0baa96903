package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ineffable/internal/render"
	"ineffable/internal/store"
)

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage saved servers",
	}
	cmd.AddCommand(
		newServersListCmd(),
		newServersAddCmd(),
		newServersRemoveCmd(),
		newServersRenameCmd(),
		newServersURLCmd(),
		newServersUseCmd(),
	)
	return cmd
}

// withStore opens the server store for the duration of fn
func withStore(fn func(*store.Store) error) error {
	s, err := store.Open()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved servers (* marks the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				servers, err := s.List()
				if err != nil {
					return err
				}
				render.ServersTable(cmd.OutOrStdout(), servers)
				return nil
			})
		},
	}
}

func newServersAddCmd() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Save a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				srv, err := s.Add(args[0], args[1], backend)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", srv.Name, srv.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&backend, "type", "t", store.BackendNative, "backend protocol: native or opencode")
	return cmd
}

func newServersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|id>",
		Aliases: []string{"rm"},
		Short:   "Forget a saved server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				return s.Remove(args[0])
			})
		},
	}
}

func newServersRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name|id> <new-name>",
		Short: "Rename a saved server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				srv, err := s.Get(args[0])
				if err != nil {
					return err
				}
				srv.Name = args[1]
				return s.Update(*srv)
			})
		},
	}
}

func newServersURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-url <name|id> <url>",
		Short: "Change the URL of a saved server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				srv, err := s.Get(args[0])
				if err != nil {
					return err
				}
				srv.URL = args[1]
				return s.Update(*srv)
			})
		},
	}
}

func newServersUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name|id>",
		Short: "Make a saved server the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				return s.SetDefault(args[0])
			})
		},
	}
}
