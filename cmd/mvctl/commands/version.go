package commands

import (
	"fmt"

	"metavault/pkg/engine"
	"metavault/pkg/exporter"
	"metavault/pkg/service"
	"metavault/pkg/types"

	"github.com/spf13/cobra"
)

var (
	commitMsg    string
	commitBranch string
	commitExpect string

	logBranch string
	logDepth  int

	showFormat string

	diffBranches bool
)

var initCmd = &cobra.Command{
	Use:   "init <file>",
	Short: "Create the first version of a document",
	Long:  `Commit the given JSON or YAML file as the root version of the document and create its default branch.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		content, err := readDocument(cmd, args[0])
		if err != nil {
			return err
		}
		msg := commitMsg
		if msg == "" {
			msg = "Initial version"
		}
		v, err := VC.CreateVersion(cmd.Context(), &service.CreateVersionRequest{
			DocumentID: doc,
			Document:   content,
			Author:     currentUser(),
			Message:    msg,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Initialized %s on %s at %s\n", doc, engine.DefaultBranch, types.Hash(v.ID).Short())
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <file>",
	Short: "Record a new version of the document",
	Long:  `Commit the given JSON or YAML file as a new version on a branch. Use --expect to fail when the branch head has moved.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		if commitMsg == "" {
			return fmt.Errorf("commit message cannot be empty (use -m)")
		}
		content, err := readDocument(cmd, args[0])
		if err != nil {
			return err
		}
		v, err := VC.CreateVersion(cmd.Context(), &service.CreateVersionRequest{
			DocumentID:   doc,
			Branch:       commitBranch,
			Document:     content,
			Author:       currentUser(),
			Message:      commitMsg,
			ExpectedHead: commitExpect,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "[%s %s] %s\n", commitBranch, types.Hash(v.ID).Short(), commitMsg)
		if v.Summary != "" {
			fmt.Fprintf(out(cmd), "  %s\n", v.Summary)
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log [version]",
	Short: "Show version lineage",
	Long:  `Walk all ancestors of a version (or the head of --branch), newest first. Merge versions contribute both parents.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := ""
		if len(args) > 0 {
			start = args[0]
		} else {
			doc, err := requireDoc()
			if err != nil {
				return err
			}
			info, err := VC.GetBranchInfo(cmd.Context(), &service.BranchRequest{DocumentID: doc, Branch: logBranch})
			if err != nil {
				return err
			}
			start = info.Branch.HeadVersionID
		}
		lineage, err := VC.GetVersionLineage(cmd.Context(), &service.VersionRequest{VersionID: start, MaxDepth: logDepth})
		if err != nil {
			return err
		}
		for _, e := range lineage.Entries {
			exporter.PrintVersion(out(cmd), e.Version)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Show a version and its document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := VC.GetVersion(cmd.Context(), &service.VersionRequest{VersionID: args[0]})
		if err != nil {
			return err
		}
		exporter.PrintVersion(out(cmd), v)
		if v.Document == nil {
			return nil
		}
		return exporter.WriteDocument(out(cmd), v.Document, exporter.Format(showFormat))
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <hash>",
	Short: "Print a raw object from the local object store",
	Long:  `Decode a version or snapshot object straight from object storage. Only available without --server.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Local == nil {
			return fmt.Errorf("cat reads the local object store and cannot be used with --server")
		}
		hash, err := Local.Store.ExpandHash(cmd.Context(), types.HashPrefix(args[0]))
		if err != nil {
			return fmt.Errorf("invalid object argument '%s': %w", args[0], err)
		}
		return exporter.NewExporter(Local.Store).PrintObject(cmd.Context(), hash, out(cmd))
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <from> <to>",
	Short: "Show the structural diff between two versions (or branches with --branches)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			cmp *service.Comparison
			err error
		)
		if diffBranches {
			doc, derr := requireDoc()
			if derr != nil {
				return derr
			}
			cmp, err = VC.CompareBranches(cmd.Context(), &service.CompareRequest{DocumentID: doc, From: args[0], To: args[1]})
		} else {
			cmp, err = VC.CompareVersions(cmd.Context(), &service.CompareRequest{From: args[0], To: args[1]})
		}
		if err != nil {
			return err
		}
		if cmp.Base != "" {
			fmt.Fprintf(out(cmd), "merge base %s, %s is %d ahead / %d behind\n",
				types.Hash(cmp.Base).Short(), args[1], cmp.Ahead, cmp.Behind)
		}
		exporter.PrintDiff(out(cmd), cmp.Diff)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <version>",
	Short: "Commit an old version's content as the new head of a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := VC.RestoreVersion(cmd.Context(), &service.RestoreVersionRequest{
			VersionID: args[0],
			Branch:    commitBranch,
			Author:    currentUser(),
			Message:   commitMsg,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Restored %s as %s\n", args[0], types.Hash(v.ID).Short())
		return nil
	},
}

var deleteVersionCmd = &cobra.Command{
	Use:   "delete-version <version>",
	Short: "Delete a version that has no descendants, tags or locks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := VC.DeleteVersion(cmd.Context(), &service.VersionRequest{VersionID: args[0], User: currentUser()}); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted version %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd, commitCmd, logCmd, showCmd, catCmd, diffCmd, restoreCmd, deleteVersionCmd)

	initCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "version message")

	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "version message")
	commitCmd.Flags().StringVarP(&commitBranch, "branch", "b", engine.DefaultBranch, "branch to commit on")
	commitCmd.Flags().StringVar(&commitExpect, "expect", "", "fail unless the branch head is this version")

	restoreCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "version message")
	restoreCmd.Flags().StringVarP(&commitBranch, "branch", "b", "", "branch to restore on (default: the version's own branch)")

	logCmd.Flags().StringVarP(&logBranch, "branch", "b", engine.DefaultBranch, "branch whose head to start from")
	logCmd.Flags().IntVar(&logDepth, "depth", 0, "maximum depth, 0 means unlimited")

	showCmd.Flags().StringVar(&showFormat, "format", "json", "document format: json or yaml")

	diffCmd.Flags().BoolVar(&diffBranches, "branches", false, "compare branch heads instead of versions")
}
