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
	branchFrom        string
	branchFromVersion string
	branchForce       bool
	branchDepth       int

	protectReview   bool
	protectRestrict bool
	protectChecks   bool
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "List, create or delete branches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		list, err := VC.ListBranches(cmd.Context(), &service.BranchRequest{DocumentID: doc})
		if err != nil {
			return err
		}
		exporter.PrintBranches(out(cmd), list.Branches)
		return nil
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a branch from another branch head or a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		b, err := VC.CreateBranch(cmd.Context(), &service.CreateBranchRequest{
			DocumentID:    doc,
			Name:          args[0],
			SourceBranch:  branchFrom,
			SourceVersion: branchFromVersion,
			CreatedBy:     currentUser(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Created branch %s at %s\n", b.Name, types.Hash(b.HeadVersionID).Short())
		return nil
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a branch",
	Long:  `Delete a branch. Branches with open merge requests are refused unless --force is given; the default branch can never be deleted.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		if _, err := VC.DeleteBranch(cmd.Context(), &service.BranchRequest{
			DocumentID: doc,
			Branch:     args[0],
			Force:      branchForce,
			User:       currentUser(),
		}); err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Deleted branch %s\n", args[0])
		return nil
	},
}

var branchProtectCmd = &cobra.Command{
	Use:   "protect <name>",
	Short: "Set protection rules on a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		b, err := VC.ProtectBranch(cmd.Context(), &service.BranchRequest{
			DocumentID: doc,
			Branch:     args[0],
			User:       currentUser(),
			Protection: service.Protection{
				RequireReview:       protectReview,
				RestrictPush:        protectRestrict,
				RequireStatusChecks: protectChecks,
			},
		})
		if err != nil {
			return err
		}
		p := b.Protection
		fmt.Fprintf(out(cmd), "Protected %s (review=%t restrict_push=%t status_checks=%t)\n",
			b.Name, p.RequireReview, p.RestrictPush, p.RequireStatusChecks)
		return nil
	},
}

var branchUnprotectCmd = &cobra.Command{
	Use:   "unprotect <name>",
	Short: "Clear all protection rules on a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		b, err := VC.UnprotectBranch(cmd.Context(), &service.BranchRequest{DocumentID: doc, Branch: args[0], User: currentUser()})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Unprotected %s\n", b.Name)
		return nil
	},
}

var branchInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show head, divergence and open merge requests of a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		info, err := VC.GetBranchInfo(cmd.Context(), &service.BranchRequest{DocumentID: doc, Branch: args[0]})
		if err != nil {
			return err
		}
		w := out(cmd)
		fmt.Fprintf(w, "Branch:  %s\n", info.Branch.Name)
		fmt.Fprintf(w, "Head:    %s\n", info.Branch.HeadVersionID)
		if info.SourceBranch != nil {
			fmt.Fprintf(w, "Source:  %s (%d ahead, %d behind)\n", info.SourceBranch.Name, info.Ahead, info.Behind)
		}
		fmt.Fprintf(w, "Open merge requests: %d\n\n", info.OpenMergeRequests)
		if info.Head != nil {
			exporter.PrintVersion(w, info.Head)
		}
		return nil
	},
}

var branchHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show the first-parent versions and audit entries of a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := requireDoc()
		if err != nil {
			return err
		}
		h, err := VC.GetBranchHistory(cmd.Context(), &service.BranchRequest{DocumentID: doc, Branch: args[0], MaxDepth: branchDepth})
		if err != nil {
			return err
		}
		entries := make([]service.LineageEntry, len(h.Versions))
		for i, v := range h.Versions {
			entries[i] = service.LineageEntry{Version: v}
		}
		exporter.PrintLineage(out(cmd), entries)
		fmt.Fprintln(out(cmd))
		exporter.PrintHistory(out(cmd), h.Entries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(branchCmd)
	branchCmd.AddCommand(branchCreateCmd, branchDeleteCmd, branchProtectCmd, branchUnprotectCmd, branchInfoCmd, branchHistoryCmd)

	branchCreateCmd.Flags().StringVar(&branchFrom, "from", engine.DefaultBranch, "source branch")
	branchCreateCmd.Flags().StringVar(&branchFromVersion, "at", "", "fork from this version instead of the source branch head")

	branchDeleteCmd.Flags().BoolVar(&branchForce, "force", false, "delete even with open merge requests")

	branchProtectCmd.Flags().BoolVar(&protectReview, "review", false, "require an approved merge request")
	branchProtectCmd.Flags().BoolVar(&protectRestrict, "restrict-push", false, "reject direct commits")
	branchProtectCmd.Flags().BoolVar(&protectChecks, "checks", false, "require passing status checks")

	branchHistoryCmd.Flags().IntVar(&branchDepth, "depth", 0, "maximum number of versions, 0 means unlimited")
}
