package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchLanguage string
)

// searchCmd runs hybrid retrieval over the stored articles.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Long: `Runs hybrid retrieval over stored articles: cosine similarity on
embeddings blended with keyword overlap. Hidden articles never match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "restrict to one language")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.store.SearchArticles(cmd.Context(), query, searchLimit, searchLanguage)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matching articles.")
		return nil
	}

	for _, r := range results {
		article := r.Article
		fmt.Printf("[%5.2f] #%d %s (%s)\n", r.Score, article.ID, article.ThreadSummary, article.ArticleType)
		fmt.Printf("        symptom: %s\n", article.Symptom)
		if len(article.Tags) > 0 {
			fmt.Printf("        tags: %s\n", strings.Join(article.Tags, ", "))
		}
	}
	return nil
}
