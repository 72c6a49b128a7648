package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Keeeszo/friends-bot/internal/app"
	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

func newAccountsCommand(configPath *string) *cobra.Command {
	var showTasks bool
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List registered accounts and running builds from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(*configPath).Parse()
			if err != nil {
				return fmt.Errorf("parse %s: %w", *configPath, err)
			}
			store, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			defer store.Close()

			owners, err := store.All(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(owners) == 0 {
				fmt.Fprintln(out, "No accounts registered")
				return nil
			}
			now := time.Now()
			fmt.Fprintln(out, renderTable(
				[]string{"Owner", "Tag", "Name", "TH", "Builders", "Next"},
				accountRows(owners, now),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			if showTasks {
				fmt.Fprintln(out, renderTable(
					[]string{"Tag", "#", "Description", "Ends", "Remaining", "ID"},
					taskRows(owners, now),
					[]columnAlignment{alignLeft, alignRight},
				))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showTasks, "tasks", "t", false, "also list every running build")
	return cmd
}

func accountRows(owners []builders.Owner, now time.Time) [][]string {
	var rows [][]string
	for _, o := range owners {
		who := o.Name
		if who == "" {
			who = o.ID
		}
		for _, a := range o.Accounts {
			next := "-"
			if len(a.Tasks) > 0 {
				soonest := a.Tasks[0].End
				for _, t := range a.Tasks[1:] {
					if t.End.Before(soonest) {
						soonest = t.End
					}
				}
				next = builders.FormatRemaining(soonest, now)
			}
			rows = append(rows, []string{
				who, a.Tag, a.Name, strconv.Itoa(a.Level),
				fmt.Sprintf("%d/%d", len(a.Tasks), a.Capacity), next,
			})
		}
	}
	return rows
}

func taskRows(owners []builders.Owner, now time.Time) [][]string {
	var rows [][]string
	for _, o := range owners {
		for _, a := range o.Accounts {
			for i, t := range a.Tasks {
				rows = append(rows, []string{
					a.Tag, strconv.Itoa(i + 1), t.Description,
					t.End.Local().Format("2006-01-02 15:04"),
					builders.FormatRemaining(t.End, now), t.ID,
				})
			}
		}
	}
	return rows
}
