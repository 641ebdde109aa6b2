package exporter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"metavault/pkg/diff"
	"metavault/pkg/service"
)

// 颜色代码 (ANSI Escape Codes)
const (
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorReset  = "\033[0m"
)

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// PrintVersion 仿 git show 的头部
func PrintVersion(w io.Writer, v *service.Version) {
	fmt.Fprintf(w, "%sversion %s%s\n", colorYellow, v.ID, colorReset)
	if len(v.Parents) > 1 {
		parents := make([]string, len(v.Parents))
		for i, p := range v.Parents {
			parents[i] = short(p)
		}
		fmt.Fprintf(w, "Merge:  %s\n", strings.Join(parents, " "))
	}
	fmt.Fprintf(w, "Author: %s\n", v.Author)
	fmt.Fprintf(w, "Date:   %s\n", v.CreatedAt.Format(time.RFC1123))
	fmt.Fprintf(w, "\n    %s\n", v.Message)
	if v.Summary != "" {
		fmt.Fprintf(w, "    (%s)\n", v.Summary)
	}
	fmt.Fprintln(w)
}

// PrintLineage 每行一个版本，按深度缩进
func PrintLineage(w io.Writer, entries []service.LineageEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s%s%s %s (%s)\n",
			strings.Repeat("  ", e.Depth), colorYellow, short(e.Version.ID), colorReset,
			e.Version.Message, e.Version.Author)
	}
}

// PrintDiff 输出 +/-/~ 风格的变更列表
func PrintDiff(w io.Writer, d *service.Diff) {
	for _, c := range d.Changes {
		switch c.Type {
		case diff.Added:
			fmt.Fprintf(w, "%s+ %s: %s%s\n", colorGreen, c.Path, c.New, colorReset)
		case diff.Removed:
			fmt.Fprintf(w, "%s- %s: %s%s\n", colorRed, c.Path, c.Old, colorReset)
		default:
			fmt.Fprintf(w, "~ %s: %s -> %s\n", c.Path, c.Old, c.New)
		}
	}
	s := d.Summary
	fmt.Fprintf(w, "\n%d added, %d removed, %d changed\n", s.Added, s.Removed, s.Changed+s.TypeChanged)
}

// PrintConflicts 列出冲突以及每个冲突的候选解决方案
func PrintConflicts(w io.Writer, conflicts []service.Conflict) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, "no conflicts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PATH\tKIND\tBASE\tSOURCE\tTARGET\n")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Path, c.Kind, raw(c.Base), raw(c.Source), raw(c.Target))
	}
	tw.Flush()
	for _, c := range conflicts {
		if len(c.Suggestions) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", c.Path)
		for _, s := range c.Suggestions {
			fmt.Fprintf(w, "  [%s] %s\n", s.Strategy, s.Description)
		}
	}
}

func raw(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return string(b)
}

// PrintMergeRequest 输出合并请求详情
func PrintMergeRequest(w io.Writer, mr *service.MergeRequest) {
	fmt.Fprintf(w, "%smerge request %s%s  [%s]\n", colorYellow, mr.ID, colorReset, mr.Status)
	fmt.Fprintf(w, "Title:     %s\n", mr.Title)
	fmt.Fprintf(w, "Source:    %s @ %s\n", mr.SourceBranchID, short(mr.SourceVersionID))
	fmt.Fprintf(w, "Target:    %s @ %s\n", mr.TargetBranchID, short(mr.TargetVersionID))
	if mr.BaseVersionID != "" {
		fmt.Fprintf(w, "Base:      %s\n", short(mr.BaseVersionID))
	}
	if len(mr.Reviewers) > 0 {
		fmt.Fprintf(w, "Reviewers: %s (approved: %s)\n", strings.Join(mr.Reviewers, ", "), strings.Join(mr.ApprovedBy, ", "))
	}
	if len(mr.ConflictPaths) > 0 {
		fmt.Fprintf(w, "Conflicts: %s\n", strings.Join(mr.ConflictPaths, ", "))
	}
	if mr.MergedVersionID != "" {
		fmt.Fprintf(w, "Merged as: %s\n", short(mr.MergedVersionID))
	}
}

func PrintMergeRequests(w io.Writer, mrs []*service.MergeRequest) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSTATUS\tTITLE\tCREATED BY\n")
	for _, mr := range mrs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mr.ID, mr.Status, mr.Title, mr.CreatedBy)
	}
	tw.Flush()
}

func PrintBranches(w io.Writer, branches []*service.Branch) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tHEAD\tPROTECTED\tCREATED BY\n")
	for _, b := range branches {
		protected := "-"
		if b.Protection.RequireReview || b.Protection.RestrictPush || b.Protection.RequireStatusChecks {
			protected = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, short(b.HeadVersionID), protected, b.CreatedBy)
	}
	tw.Flush()
}

// PrintHistory 输出审计日志
func PrintHistory(w io.Writer, entries []service.HistoryEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tUSER\tACTION\tVERSION\tDESCRIPTION\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.PerformedAt.Format(time.RFC3339), e.PerformedBy, e.Action, short(e.VersionID), e.Description)
	}
	tw.Flush()
}
