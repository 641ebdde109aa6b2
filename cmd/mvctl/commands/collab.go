package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"metavault/pkg/service"
	"metavault/pkg/types"

	"github.com/spf13/cobra"
)

var (
	tagType    string
	tagVersion string

	commentPath    string
	commentLine    int
	commentReplyTo string
	commentReopen  bool

	lockReason string
	lockFor    time.Duration
)

// -----------------------------------------------------------------------------
// tag
// -----------------------------------------------------------------------------

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "List, create or delete tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		list, err := VC.ListTags(cmd.Context(), &service.ListTagsRequest{DocumentID: doc, VersionID: tagVersion})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\tNAME\tVERSION\tTYPE\tCREATED BY\n")
		for _, t := range list.Tags {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, types.Hash(t.VersionID).Short(), t.TagType, t.CreatedBy)
		}
		return tw.Flush()
	},
}

var tagCreateCmd = &cobra.Command{
	Use:   "create <name> <version>",
	Short: "Tag a version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := VC.CreateTag(cmd.Context(), &service.CreateTagRequest{
			VersionID: args[1],
			Name:      args[0],
			TagType:   tagType,
			CreatedBy: currentUser(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Tagged %s as %s (%s)\n", types.Hash(t.VersionID).Short(), t.Name, t.ID)
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := VC.DeleteTag(cmd.Context(), &service.ItemRequest{ID: args[0], User: currentUser()}); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted tag %s\n", args[0])
		return nil
	},
}

// -----------------------------------------------------------------------------
// comment
// -----------------------------------------------------------------------------

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Discuss a version",
}

var commentAddCmd = &cobra.Command{
	Use:   "add <version> <text>",
	Short: "Comment on a version, optionally on one field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := VC.CreateComment(cmd.Context(), &service.CreateCommentRequest{
			VersionID:  args[0],
			ParentID:   commentReplyTo,
			FieldPath:  commentPath,
			LineNumber: commentLine,
			Content:    args[1],
			Author:     currentUser(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Added comment %s\n", c.ID)
		return nil
	},
}

var commentListCmd = &cobra.Command{
	Use:   "list <version>",
	Short: "List comments of a version, replies indented under their parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := VC.GetComments(cmd.Context(), &service.VersionRequest{VersionID: args[0]})
		if err != nil {
			return err
		}
		replies := make(map[string][]*service.Comment)
		var roots []*service.Comment
		for _, c := range list.Comments {
			if c.ParentID == "" {
				roots = append(roots, c)
				continue
			}
			replies[c.ParentID] = append(replies[c.ParentID], c)
		}

		var walk func(c *service.Comment, depth int)
		walk = func(c *service.Comment, depth int) {
			state := ""
			if c.Resolved {
				state = " [resolved]"
			}
			where := ""
			if c.FieldPath != "" {
				where = " @ " + c.FieldPath
			}
			fmt.Fprintf(out(cmd), "%s%s %s%s%s: %s\n", strings.Repeat("  ", depth), c.ID, c.Author, where, state, c.Content)
			for _, r := range replies[c.ID] {
				walk(r, depth+1)
			}
		}
		for _, c := range roots {
			walk(c, 0)
		}
		return nil
	},
}

var commentEditCmd = &cobra.Command{
	Use:   "edit <id> <text>",
	Short: "Edit one of your comments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := VC.UpdateComment(cmd.Context(), &service.ItemRequest{ID: args[0], Content: args[1], User: currentUser()})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Updated comment %s\n", c.ID)
		return nil
	},
}

var commentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one of your comments and its replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := VC.DeleteComment(cmd.Context(), &service.ItemRequest{ID: args[0], User: currentUser()}); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted comment %s\n", args[0])
		return nil
	},
}

var commentResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a comment as resolved (or reopen it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := VC.ResolveComment(cmd.Context(), &service.ItemRequest{ID: args[0], Resolved: !commentReopen, User: currentUser()})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Comment %s resolved=%t\n", c.ID, c.Resolved)
		return nil
	},
}

// -----------------------------------------------------------------------------
// lock
// -----------------------------------------------------------------------------

var lockCmd = &cobra.Command{
	Use:   "lock <version>",
	Short: "Lock a version against deletion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := VC.LockVersion(cmd.Context(), &service.LockRequest{
			VersionID: args[0],
			User:      currentUser(),
			Reason:    lockReason,
			Duration:  lockFor,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Locked %s until %s\n", types.Hash(l.VersionID).Short(), l.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <version>",
	Short: "Release your lock on a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := VC.UnlockVersion(cmd.Context(), &service.LockRequest{VersionID: args[0], User: currentUser()}); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Unlocked %s\n", args[0])
		return nil
	},
}

var locksCmd = &cobra.Command{
	Use:   "locks <version>",
	Short: "List active locks of a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := VC.GetVersionLocks(cmd.Context(), &service.VersionRequest{VersionID: args[0]})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "LOCKED BY\tEXPIRES\tREASON\n")
		for _, l := range list.Locks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.LockedBy, l.ExpiresAt.Format(time.RFC3339), l.Reason)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tagCmd, commentCmd, lockCmd, unlockCmd, locksCmd)
	tagCmd.AddCommand(tagCreateCmd, tagDeleteCmd)
	commentCmd.AddCommand(commentAddCmd, commentListCmd, commentEditCmd, commentDeleteCmd, commentResolveCmd)

	tagCmd.Flags().StringVar(&tagVersion, "version", "", "only tags on this version")
	tagCreateCmd.Flags().StringVar(&tagType, "type", "", "tag type, e.g. release or milestone")

	commentAddCmd.Flags().StringVar(&commentPath, "path", "", "field path the comment refers to")
	commentAddCmd.Flags().IntVar(&commentLine, "line", 0, "line number the comment refers to")
	commentAddCmd.Flags().StringVar(&commentReplyTo, "reply-to", "", "parent comment id")
	commentResolveCmd.Flags().BoolVar(&commentReopen, "reopen", false, "mark as unresolved instead")

	lockCmd.Flags().StringVar(&lockReason, "reason", "", "why the version is locked")
	lockCmd.Flags().DurationVar(&lockFor, "for", 0, "lock duration (default 1h)")
}
