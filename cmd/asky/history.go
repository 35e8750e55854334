package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// buildHistoryCmd creates the "history" command group.
func buildHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List and delete past interactions",
	}
	cmd.AddCommand(buildHistoryListCmd(), buildHistoryDeleteCmd())
	return cmd
}

func buildHistoryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent interactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			cfg, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			if limit <= 0 {
				limit = cfg.Session.HistoryDefault
			}
			history, err := st.GetHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Println("no history")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tMODEL\tQUERY\tANSWER")
			for _, in := range history {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					interactionRowID(in.UserID, in.AssistantID),
					in.CreatedAt.Local().Format("2006-01-02 15:04"),
					in.Model,
					truncate(in.Query, 48),
					truncate(in.Answer, 64))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Interactions to show (default from config)")
	return cmd
}

func buildHistoryDeleteCmd() *cobra.Command {
	var all bool
	var fromID, toID int64
	cmd := &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete interactions by id, range, or entirely",
		Example: `  asky history delete 12 14
  asky history delete --from 1 --to 40
  asky history delete --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			_, st, err := openStore(configPath, verbose)
			if err != nil {
				return err
			}
			defer st.Close()

			var deleted int64
			switch {
			case all:
				deleted, err = st.DeleteAllMessages(cmd.Context())
			case fromID > 0 || toID > 0:
				if fromID < 1 || toID < fromID {
					return fmt.Errorf("--from and --to must describe a valid id range")
				}
				deleted, err = st.DeleteMessageRange(cmd.Context(), fromID, toID)
			case len(args) > 0:
				var ids []int64
				if ids, err = parseIDArgs(args); err != nil {
					return err
				}
				deleted, err = st.DeleteMessages(cmd.Context(), ids)
			default:
				return fmt.Errorf("pass message ids, --from/--to, or --all")
			}
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d message(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete all history")
	cmd.Flags().Int64Var(&fromID, "from", 0, "First message id of the range")
	cmd.Flags().Int64Var(&toID, "to", 0, "Last message id of the range")
	return cmd
}

// interactionRowID shows the assistant row's id, which is what the ~N
// and completion selectors resolve to.
func interactionRowID(userID, assistantID int64) int64 {
	if assistantID != 0 {
		return assistantID
	}
	return userID
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
