package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and delete conversation sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsDeleteCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			_, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tLAST ACTIVE")
			for _, s := range sessions {
				name := s.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					s.ID, name, s.ModelAlias, s.LastActiveAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum sessions to show")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete sessions and their messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass session ids or --all")
			}
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			_, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			var deleted int64
			if all {
				deleted, err = st.DeleteAllSessions(cmd.Context())
			} else {
				var ids []int64
				if ids, err = parseIDArgs(args); err != nil {
					return err
				}
				deleted, err = st.DeleteSessions(cmd.Context(), ids)
			}
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d session(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every session")
	return cmd
}
