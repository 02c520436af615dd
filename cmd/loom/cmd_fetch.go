package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"threadloom/internal/source/github"
)

var (
	fetchLimit    int
	fetchAll      bool
	fetchCategory string
	fetchDryRun   bool
)

// fetchCmd pulls discussions from one repository on demand.
var fetchCmd = &cobra.Command{
	Use:   "fetch <owner/repo>",
	Short: "Pull forum discussions from a repository",
	Long: `Fetches discussions from a repository's GraphQL surface and runs each
one through the extraction pipeline as a pre-threaded batch.

Examples:
  loom fetch acme/widget --limit 10
  loom fetch acme/widget --category "Q&A" --all
  loom fetch acme/widget --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 25, "maximum discussions to fetch")
	fetchCmd.Flags().BoolVar(&fetchAll, "all", false, "fetch every discussion")
	fetchCmd.Flags().StringVar(&fetchCategory, "category", "", "restrict to one discussion category")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "list discussions without processing")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if fetchAll && cmd.Flags().Changed("limit") {
		return fmt.Errorf("--limit and --all are mutually exclusive")
	}
	repoSlug := args[0]
	owner, name, err := github.ParseRepo(repoSlug)
	if err != nil {
		return err
	}
	if cfg.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN not set: %w", errMissingCredentials)
	}

	client := github.NewClient(cfg.GitHub.Token)
	ctx := cmd.Context()

	opts := github.FetchOptions{Limit: fetchLimit}
	if fetchAll {
		opts.Limit = 0
	}
	if fetchCategory != "" {
		categories, err := client.Categories(ctx, owner, name)
		if err != nil {
			return err
		}
		for _, cat := range categories {
			if strings.EqualFold(cat.Name, fetchCategory) {
				opts.CategoryID = cat.ID
				break
			}
		}
		if opts.CategoryID == "" {
			names := make([]string, 0, len(categories))
			for _, cat := range categories {
				names = append(names, cat.Name)
			}
			return fmt.Errorf("category %q not found; repository has: %s",
				fetchCategory, strings.Join(names, ", "))
		}
	}

	if fetchDryRun {
		discussions, err := client.Discussions(ctx, owner, name, opts)
		if err != nil {
			return err
		}
		for _, d := range discussions {
			answered := " "
			if d.Answer != nil {
				answered = "*"
			}
			fmt.Printf("%s %-12s %-40.40s %d comments [%s]\n",
				answered, d.ID, d.Title, len(d.Comments.Nodes), d.Category.Name)
		}
		fmt.Printf("%d discussions (dry run, nothing processed)\n", len(discussions))
		return nil
	}

	if !cfg.LLMEnabled() {
		return fmt.Errorf("ANTHROPIC_API_KEY not set: %w", errMissingCredentials)
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.registerRepoChannel(ctx, repoSlug); err != nil {
		return err
	}

	fetcher := github.NewFetcher(client, a.pool.Handle)
	n, err := fetcher.FetchOnce(ctx, repoSlug, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d discussions from %s\n", n, repoSlug)
	return nil
}
