// Package main implements resort-downloads, the CLI reconciliation command
// from spec §6: make one domain's download tree consistent with its hash
// registry after a routing-policy change or ad-hoc filesystem edits.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/blobstore"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/coordinator"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/reconcile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

func main() {
	os.Exit(run())
}

// run builds and executes the root command, translating its outcome into
// spec §6's exit codes: 0 success, 2 unknown command, 1 fatal.
func run() int {
	cmd := newRootCmd()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		if strings.Contains(err.Error(), "unknown command") {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Fprintln(os.Stderr, "resort-downloads:", err)
		return 1
	}
	return 0
}

type flags struct {
	domain     string
	crawlRoot  string
	apply      bool
	root       string
	conflict   string
	limit      int
}

// newRootCmd builds the single resort-downloads command, grounded on the
// teacher's newXCmd() shape (a *cobra.Command built in a constructor
// function, RunE doing the real work).
func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "resort-downloads",
		Short: "Reconcile a domain's download tree against its hash registry",
		Long: `resort-downloads walks one domain's content-hash registry, relocating
every record to its current routing-policy placement, resolving residual
name collisions, then sweeps the download tree for files the registry
doesn't reference. Defaults to a dry run; pass --apply to mutate the
filesystem and registry.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResort(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.domain, "domain", "", "explicit domain key/host")
	cmd.Flags().StringVar(&f.crawlRoot, "crawl_root", "", "root-like URL to resolve the domain from when --domain is omitted")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "mutate the filesystem and registry (default is dry-run)")
	cmd.Flags().StringVar(&f.root, "root", ".", "project root containing BFS_crawl/ and downloads/")
	cmd.Flags().StringVar(&f.conflict, "conflict", string(reconcile.PolicySuffix), "residual name collision policy: suffix|skip|overwrite")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "cap the number of reconciliation actions taken (0 = unlimited)")

	return cmd
}

func runResort(cmd *cobra.Command, f *flags) error {
	conflict := reconcile.ConflictPolicy(f.conflict)
	switch conflict {
	case reconcile.PolicySuffix, reconcile.PolicySkip, reconcile.PolicyOverwrite:
	default:
		return fmt.Errorf("unknown --conflict value %q", f.conflict)
	}

	domain := domainkey.Resolve(f.domain, []string{f.crawlRoot}, nil)

	st, err := store.Open(f.root, domain)
	if err != nil {
		return fmt.Errorf("open store for domain %s: %w", domain, err)
	}

	blob, err := blobstore.New(st.Tree().DownloadsDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	mode := reconcile.DryRun
	if f.apply {
		mode = reconcile.Apply
	}

	engine := &reconcile.Engine{
		Store:    st,
		Blob:     blob,
		Policy:   routing.Electoral{},
		Terms:    st.Terms(),
		Clock:    clock.New(),
		Mode:     mode,
		Conflict: conflict,
		Out:      cmd.OutOrStdout(),
		Limit:    f.limit,
	}

	co := coordinator.New(nil)
	var summary reconcile.Summary
	err = co.With(func() error {
		var runErr error
		summary, runErr = engine.Run()
		return runErr
	})
	if err != nil {
		return fmt.Errorf("reconcile domain %s: %w", domain, err)
	}

	printSummary(cmd, domain, mode, summary)
	return nil
}

func printSummary(cmd *cobra.Command, domain string, mode reconcile.Mode, summary reconcile.Summary) {
	out := cmd.OutOrStdout()
	total := len(summary.Actions)
	fmt.Fprintf(out, "resort-downloads: domain=%s mode=%s actions=%s\n", domain, mode, humanize.Comma(int64(total)))
	for _, kind := range []reconcile.ActionKind{
		reconcile.ActionMissing, reconcile.ActionRefresh, reconcile.ActionMove,
		reconcile.ActionDedupe, reconcile.ActionDisplace, reconcile.ActionDup,
		reconcile.ActionPromote, reconcile.ActionAdopt, reconcile.ActionConflictSkip,
	} {
		if n := summary.Counts[kind]; n > 0 {
			fmt.Fprintf(out, "  %-14s %d\n", kind, n)
		}
	}
}
