package commands

import (
	"encoding/json"
	"fmt"

	"metavault/pkg/engine"
	"metavault/pkg/exporter"
	"metavault/pkg/merge"
	"metavault/pkg/meta"
	"metavault/pkg/service"
	"metavault/pkg/types"

	"github.com/spf13/cobra"
)

var (
	mrSource      string
	mrTarget      string
	mrTitle       string
	mrDescription string
	mrReviewers   []string

	mrStatus string
	mrLimit  int

	mrReason   string
	mrPassed   bool
	mrStrategy string
	mrResolve  []string
	mrRemove   []string
)

var mrCmd = &cobra.Command{
	Use:     "mr",
	Aliases: []string{"merge-request"},
	Short:   "Work with merge requests",
}

var mrCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a merge request from a source branch into a target branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		if mrSource == "" {
			return fmt.Errorf("source branch is required (use -s)")
		}
		title := mrTitle
		if title == "" {
			title = fmt.Sprintf("Merge %s into %s", mrSource, mrTarget)
		}
		view, err := VC.CreateMergeRequest(cmd.Context(), &service.CreateMergeRequestRequest{
			DocumentID:   doc,
			SourceBranch: mrSource,
			TargetBranch: mrTarget,
			Title:        title,
			Description:  mrDescription,
			Reviewers:    mrReviewers,
			CreatedBy:    currentUser(),
		})
		if err != nil {
			return err
		}
		exporter.PrintMergeRequest(out(cmd), view.MergeRequest)
		if len(view.Conflicts) > 0 {
			fmt.Fprintln(out(cmd))
			exporter.PrintConflicts(out(cmd), view.Conflicts)
		}
		return nil
	},
}

var mrListCmd = &cobra.Command{
	Use:   "list",
	Short: "List merge requests of the document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		list, err := VC.ListMergeRequests(cmd.Context(), &service.ListMergeRequestsRequest{
			DocumentID: doc,
			Status:     meta.MergeRequestStatus(mrStatus),
			Limit:      mrLimit,
		})
		if err != nil {
			return err
		}
		exporter.PrintMergeRequests(out(cmd), list.MergeRequests)
		return nil
	},
}

var mrShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a merge request and its current conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mr, err := VC.GetMergeRequest(cmd.Context(), &service.MergeRequestRef{ID: args[0]})
		if err != nil {
			return err
		}
		exporter.PrintMergeRequest(out(cmd), mr)
		if mr.Status == meta.StatusBlockedByConflicts {
			conflicts, err := VC.GetConflicts(cmd.Context(), &service.MergeRequestRef{ID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd))
			exporter.PrintConflicts(out(cmd), conflicts.Conflicts)
		}
		return nil
	},
}

var mrRefreshCmd = &cobra.Command{
	Use:   "refresh <id>",
	Short: "Re-read both branch heads and recompute conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := VC.RefreshMergeRequest(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser()})
		if err != nil {
			return err
		}
		exporter.PrintMergeRequest(out(cmd), view.MergeRequest)
		return nil
	},
}

var mrApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a merge request as the current user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mr, err := VC.ApproveMergeRequest(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser()})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Approved %s [%s]\n", mr.ID, mr.Status)
		return nil
	},
}

var mrRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a merge request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mr, err := VC.RejectMergeRequest(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser(), Reason: mrReason})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Rejected %s\n", mr.ID)
		return nil
	},
}

var mrCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a merge request without merging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mr, err := VC.CloseMergeRequest(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser()})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Closed %s\n", mr.ID)
		return nil
	},
}

var mrCheckCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Report the status check result of a merge request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mr, err := VC.ReportStatusCheck(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser(), Passed: mrPassed})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Status checks of %s: passed=%t\n", mr.ID, mr.StatusChecksPassed)
		return nil
	},
}

var mrSuggestCmd = &cobra.Command{
	Use:   "suggest <id>",
	Short: "Suggest resolutions for every conflict of a merge request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := VC.SuggestConflictResolutions(cmd.Context(), &service.MergeRequestRef{ID: args[0]})
		if err != nil {
			return err
		}
		if len(list.Paths) == 0 {
			fmt.Fprintln(out(cmd), "no conflicts")
			return nil
		}
		for _, p := range list.Paths {
			fmt.Fprintf(out(cmd), "%s (%s):\n", p.Path, p.Kind)
			for _, s := range p.Suggestions {
				fmt.Fprintf(out(cmd), "  [%s] %s\n", s.Strategy, s.Description)
			}
		}
		return nil
	},
}

var mrMergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge a merge request",
	Long: `Merge a merge request into its target branch.

Without options an automatic merge is attempted and conflicts are reported.
Conflicts can be resolved with one --strategy for every path, or per path with
--resolve path=<json> and --remove path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolutions, err := parseResolutions(mrResolve, mrRemove)
		if err != nil {
			return err
		}

		var res *service.MergeResult
		if len(resolutions) == 0 && mrStrategy == "" {
			res, err = VC.AutoMerge(cmd.Context(), &service.MergeRequestRef{ID: args[0], User: currentUser()})
		} else {
			res, err = VC.ManualMerge(cmd.Context(), &service.ManualMergeRequest{
				ID:          args[0],
				Resolutions: resolutions,
				Strategy:    merge.Strategy(mrStrategy),
				User:        currentUser(),
			})
		}
		if err != nil {
			return err
		}

		for _, m := range res.Messages {
			fmt.Fprintln(out(cmd), m)
		}
		if !res.Success {
			exporter.PrintConflicts(out(cmd), res.Conflicts)
			return fmt.Errorf("merge request %s has %d unresolved conflicts", args[0], len(res.Conflicts))
		}
		fmt.Fprintf(out(cmd), "Merged %s as %s\n", args[0], types.Hash(res.MergedVersionID).Short())
		return nil
	},
}

// parseResolutions 解析 path=<json> 形式的解决方案，值不是合法 JSON 时按字符串处理
func parseResolutions(values, removes []string) ([]service.Resolution, error) {
	out := make([]service.Resolution, 0, len(values)+len(removes))
	for _, kv := range values {
		path, raw, ok := cutResolution(kv)
		if !ok {
			return nil, fmt.Errorf("invalid resolution %q, expected path=value", kv)
		}
		if !json.Valid([]byte(raw)) {
			quoted, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			raw = string(quoted)
		}
		out = append(out, service.Resolution{Path: path, Value: json.RawMessage(raw)})
	}
	for _, p := range removes {
		out = append(out, service.Resolution{Path: p, Remove: true})
	}
	return out, nil
}

// cutResolution 在方括号之外的第一个 '=' 处切分，路径里的 [id=a] 不参与切分
func cutResolution(kv string) (path, value string, ok bool) {
	depth := 0
	for i, r := range kv {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '=':
			if depth == 0 {
				return kv[:i], kv[i+1:], i > 0
			}
		}
	}
	return "", "", false
}

func init() {
	rootCmd.AddCommand(mrCmd)
	mrCmd.AddCommand(mrCreateCmd, mrListCmd, mrShowCmd, mrRefreshCmd, mrApproveCmd, mrRejectCmd,
		mrCloseCmd, mrCheckCmd, mrSuggestCmd, mrMergeCmd)

	mrCreateCmd.Flags().StringVarP(&mrSource, "source", "s", "", "source branch")
	mrCreateCmd.Flags().StringVarP(&mrTarget, "target", "t", engine.DefaultBranch, "target branch")
	mrCreateCmd.Flags().StringVar(&mrTitle, "title", "", "title (default: Merge <source> into <target>)")
	mrCreateCmd.Flags().StringVar(&mrDescription, "description", "", "description")
	mrCreateCmd.Flags().StringSliceVar(&mrReviewers, "reviewer", nil, "required reviewer, repeatable")

	mrListCmd.Flags().StringVar(&mrStatus, "status", "", "filter by status (open, blocked_by_conflicts, approved, merged, rejected, closed)")
	mrListCmd.Flags().IntVar(&mrLimit, "limit", 0, "maximum number of results")

	mrRejectCmd.Flags().StringVar(&mrReason, "reason", "", "reason for the rejection")
	mrCheckCmd.Flags().BoolVar(&mrPassed, "passed", false, "whether the checks passed")

	mrMergeCmd.Flags().StringVar(&mrStrategy, "strategy", "", "resolve every conflict with prefer_source, prefer_target, prefer_non_null or keep_base")
	mrMergeCmd.Flags().StringArrayVar(&mrResolve, "resolve", nil, "resolve a path with a JSON value, e.g. --resolve 'arms[id=a].dose=20'")
	mrMergeCmd.Flags().StringArrayVar(&mrRemove, "remove", nil, "resolve a path by removing it")
}
