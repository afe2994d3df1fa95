package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cleanupd/internal/policy"
)

const defaultMaxSize = "400GiB"

func newPolicyCommand(ctx *commandContext) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and edit directory policies",
	}

	policyCmd.AddCommand(newPolicyListCommand(ctx))
	policyCmd.AddCommand(newPolicyShowCommand(ctx))
	policyCmd.AddCommand(newPolicySetCommand(ctx))
	policyCmd.AddCommand(newPolicyRemoveCommand(ctx))

	return policyCmd
}

type policyListOutput struct {
	Policies []policy.DirectoryPolicy `json:"policies"`
	Issues   []policyIssueOutput      `json:"issues,omitempty"`
}

type policyIssueOutput struct {
	ID    string `json:"id,omitempty"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

func newPolicyListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every valid policy and any rejected policy files",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.policyStore()
			if err != nil {
				return err
			}
			policies, issues, err := store.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("load policies: %w", err)
			}

			if jsonOutput {
				payload := policyListOutput{Policies: policies}
				for _, issue := range issues {
					payload.Issues = append(payload.Issues, policyIssueOutput{ID: issue.ID, Path: issue.Path, Error: issue.Err.Error()})
				}
				if payload.Policies == nil {
					payload.Policies = []policy.DirectoryPolicy{}
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			if len(policies) == 0 {
				fmt.Fprintf(out, "No policies in %s\n", store.Dir())
			} else {
				rows := make([][]string, 0, len(policies))
				for _, p := range policies {
					rows = append(rows, []string{
						p.ID,
						p.TargetPath,
						string(p.MonitorMethod),
						fmt.Sprintf("%dd", p.MaxFileAgeDays),
						quotaLabel(p),
						p.DepthLabel(),
						modeLabel(p),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					left("ID"), wrapped("Target", 72), left("Method"),
					right("Max Age"), right("Quota"), right("Depth"), left("Mode"),
				}, rows))
			}
			printIssues(out, issues)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output policies as JSON")
	return cmd
}

func newPolicyShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.policyStore()
			if err != nil {
				return err
			}
			p, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return describePolicyError(args[0], err)
			}
			if jsonOutput {
				return writeJSON(cmd, p)
			}
			printPolicy(cmd, p)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the policy as JSON")
	return cmd
}

func newPolicySetCommand(ctx *commandContext) *cobra.Command {
	var (
		targetPath string
		method     string
		days       int
		maxSize    string
		maxDepth   int
		topLevel   bool
		remove     bool
	)

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or update a policy",
		Long: `Create a policy, or update an existing one. When the policy exists only
the flags given on the command line change; the rest keep their stored
values. New policies start as dry runs unless --remove is given.`,
		Example: `  cleanupd policy set scratch --path /srv/scratch --method age --days 14
  cleanupd policy set uploads --path /srv/uploads --method size --max-size 200GiB --max-depth 2 --remove`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.policyStore()
			if err != nil {
				return err
			}
			id := args[0]
			flags := cmd.Flags()

			p, err := store.Get(cmd.Context(), id)
			created := false
			switch {
			case errors.Is(err, policy.ErrNotFound):
				created = true
				p = policy.DirectoryPolicy{
					ID:             id,
					Version:        policy.SchemaVersion,
					MonitorMethod:  policy.MethodSize,
					MaxFileAgeDays: 30,
				}
				if !flags.Changed("path") {
					return fmt.Errorf("policy %q does not exist; --path is required to create it", id)
				}
			case err != nil:
				return describePolicyError(id, err)
			}

			if flags.Changed("path") {
				p.TargetPath = strings.TrimSpace(targetPath)
			}
			if flags.Changed("method") || created {
				p.MonitorMethod = policy.MonitorMethod(strings.ToLower(strings.TrimSpace(method)))
			}
			if flags.Changed("days") {
				p.MaxFileAgeDays = days
			}
			if flags.Changed("max-size") || (p.MonitorMethod == policy.MethodSize && p.MaxSizeBytes == 0) {
				bytes, err := humanize.ParseBytes(maxSize)
				if err != nil {
					return fmt.Errorf("parse --max-size %q: %w", maxSize, err)
				}
				p.MaxSizeBytes = int64(bytes)
			}
			if flags.Changed("max-depth") {
				depth := maxDepth
				p.MaxDepth = &depth
			}
			if topLevel {
				p.MaxDepth = nil
			}
			if flags.Changed("remove") {
				p.Remove = remove
			}

			saved, err := store.Write(cmd.Context(), p)
			if err != nil {
				return describePolicyError(id, err)
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Created policy %s\n", saved.ID)
			} else {
				fmt.Fprintf(out, "Updated policy %s\n", saved.ID)
			}
			printPolicy(cmd, saved)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&targetPath, "path", "", "Absolute path of the directory to manage")
	flags.StringVar(&method, "method", string(policy.MethodSize), "Monitor method: age or size")
	flags.IntVar(&days, "days", 30, "Delete files older than this many days")
	flags.StringVar(&maxSize, "max-size", defaultMaxSize, "Quota for the size method, e.g. 400GiB or 50GB")
	flags.IntVar(&maxDepth, "max-depth", 0, "Prune directories deeper than this and index recursively")
	flags.BoolVar(&topLevel, "top-level", false, "Index only the target's own files and never prune")
	flags.BoolVar(&remove, "remove", false, "Actually delete files (otherwise a dry run)")
	cmd.MarkFlagsMutuallyExclusive("max-depth", "top-level")
	return cmd
}

func newPolicyRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a policy file",
		Long: `Delete a policy file. Indexed entries and history for its target are
left in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.policyStore()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return describePolicyError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed policy %s\n", args[0])
			return nil
		},
	}
}

func printPolicy(cmd *cobra.Command, p policy.DirectoryPolicy) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  %-14s %s\n", "ID:", p.ID)
	fmt.Fprintf(out, "  %-14s %s\n", "Target:", p.TargetPath)
	fmt.Fprintf(out, "  %-14s %s\n", "Method:", p.MonitorMethod)
	fmt.Fprintf(out, "  %-14s %d days\n", "Max age:", p.MaxFileAgeDays)
	fmt.Fprintf(out, "  %-14s %s\n", "Quota:", quotaLabel(p))
	fmt.Fprintf(out, "  %-14s %s\n", "Depth:", p.DepthLabel())
	fmt.Fprintf(out, "  %-14s %s\n", "Mode:", modeLabel(p))
}

func quotaLabel(p policy.DirectoryPolicy) string {
	if p.MonitorMethod != policy.MethodSize || p.MaxSizeBytes <= 0 {
		return "-"
	}
	return formatBytes(p.MaxSizeBytes)
}

func modeLabel(p policy.DirectoryPolicy) string {
	if p.DryRun() {
		return "dry-run"
	}
	return "remove"
}

func describePolicyError(id string, err error) error {
	var verr *policy.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("policy %s rejected:\n  - %s", id, strings.Join(verr.Problems, "\n  - "))
	case errors.Is(err, policy.ErrNotFound):
		return fmt.Errorf("policy %q not found", id)
	default:
		return fmt.Errorf("policy %s: %w", id, err)
	}
}
