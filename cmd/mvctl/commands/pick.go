package commands

import (
	"fmt"

	"metavault/pkg/service"
	"metavault/pkg/types"

	"github.com/spf13/cobra"
)

var (
	pickBranch  string
	pickPaths   []string
	pickMessage string
	pickResolve []string
	pickRemove  []string
)

var cherryPickCmd = &cobra.Command{
	Use:   "cherry-pick <version>",
	Short: "Apply the changes a version introduced onto another branch",
	Long: `Apply the diff between a version and its first parent onto the head of --branch.
Use --path to pick only some paths; conflicting paths can be resolved with --resolve / --remove.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolutions, err := parseResolutions(pickResolve, pickRemove)
		if err != nil {
			return err
		}
		v, err := VC.CherryPick(cmd.Context(), &service.CherryPickRequest{
			VersionID:    args[0],
			TargetBranch: pickBranch,
			Paths:        pickPaths,
			Resolutions:  resolutions,
			Author:       currentUser(),
			Message:      pickMessage,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Created %s: %s\n", types.Hash(v.ID).Short(), v.Message)
		return nil
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <version>",
	Short: "Create a version that undoes the changes of an earlier version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolutions, err := parseResolutions(pickResolve, pickRemove)
		if err != nil {
			return err
		}
		v, err := VC.RevertVersion(cmd.Context(), &service.CherryPickRequest{
			VersionID:    args[0],
			TargetBranch: pickBranch,
			Resolutions:  resolutions,
			Author:       currentUser(),
			Message:      pickMessage,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Created %s: %s\n", types.Hash(v.ID).Short(), v.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cherryPickCmd, revertCmd)

	for _, c := range []*cobra.Command{cherryPickCmd, revertCmd} {
		c.Flags().StringVarP(&pickBranch, "branch", "b", "", "branch to apply on (default: the version's own branch)")
		c.Flags().StringVarP(&pickMessage, "message", "m", "", "version message")
		c.Flags().StringArrayVar(&pickResolve, "resolve", nil, "resolve a conflicting path with a JSON value")
		c.Flags().StringArrayVar(&pickRemove, "remove", nil, "resolve a conflicting path by removing it")
	}
	cherryPickCmd.Flags().StringArrayVar(&pickPaths, "path", nil, "only pick changes under this path, repeatable")
}
