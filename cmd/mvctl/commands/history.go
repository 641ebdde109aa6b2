package commands

import (
	"fmt"
	"time"

	"metavault/pkg/exporter"
	"metavault/pkg/meta"
	"metavault/pkg/service"

	"github.com/spf13/cobra"
)

var (
	historyUser    string
	historyActions []string
	historySince   string
	historyLimit   int
	historyVersion string
	historyBranch  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the audit log of the document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseSince(historySince)
		if err != nil {
			return err
		}
		actions := make([]meta.HistoryAction, len(historyActions))
		for i, a := range historyActions {
			actions[i] = meta.HistoryAction(a)
		}
		h, err := VC.GetChangeHistory(cmd.Context(), &service.HistoryRequest{
			DocumentID: docID,
			Branch:     historyBranch,
			VersionID:  historyVersion,
			User:       historyUser,
			Actions:    actions,
			Since:      since,
			Limit:      historyLimit,
		})
		if err != nil {
			return err
		}
		exporter.PrintHistory(out(cmd), h.Entries)
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity [user]",
	Short: "Show what a user did across all documents",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := currentUser()
		if len(args) > 0 {
			user = args[0]
		}
		since, err := parseSince(historySince)
		if err != nil {
			return err
		}
		h, err := VC.GetUserActivity(cmd.Context(), &service.HistoryRequest{User: user, Since: since, Limit: historyLimit})
		if err != nil {
			return err
		}
		exporter.PrintHistory(out(cmd), h.Entries)
		return nil
	},
}

// parseSince 接受 RFC3339 时间或相对时长 (如 24h)
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 24h or an RFC3339 time", s)
	}
	return t, nil
}

func init() {
	rootCmd.AddCommand(historyCmd, activityCmd)

	historyCmd.Flags().StringVar(&historyUser, "user-filter", "", "only entries performed by this user")
	historyCmd.Flags().StringSliceVar(&historyActions, "action", nil, "only these actions, e.g. merge,create_version")
	historyCmd.Flags().StringVar(&historyVersion, "version", "", "only entries about this version")
	historyCmd.Flags().StringVarP(&historyBranch, "branch", "b", "", "only entries about this branch")

	for _, c := range []*cobra.Command{historyCmd, activityCmd} {
		c.Flags().StringVar(&historySince, "since", "", "only entries after this time (24h or RFC3339)")
		c.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of entries")
	}
}
