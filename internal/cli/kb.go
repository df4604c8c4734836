package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/mas-assistant/internal/app"
	"github.com/suPer8Hu/mas-assistant/internal/knowledge"
)

var errNoKnowledge = errors.New("knowledge base unavailable, check EMBEDDING_PROVIDER")

func newKBCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect the advisory knowledge base",
	}

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank documents by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix := app.NewIndex(e.cfg, e.log)
			if ix == nil {
				return errNoKnowledge
			}
			results, err := ix.FindRelevant(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s [%s] %.3f\n", i+1, r.Document.Title, r.Document.Category, r.Similarity)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", knowledge.DefaultLimit, "max results")

	var category string
	var tags []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents, optionally by category or tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix := app.NewIndex(e.cfg, e.log)
			if ix == nil {
				return errNoKnowledge
			}
			docs := ix.Documents()
			switch {
			case category != "":
				docs = ix.SearchByCategory(knowledge.Category(category))
			case len(tags) > 0:
				docs = ix.SearchByTags(tags)
			}
			printDocuments(cmd, docs)
			return nil
		},
	}
	list.Flags().StringVarP(&category, "category", "c", "", "filter by category")
	list.Flags().StringSliceVarP(&tags, "tags", "t", nil, "filter by tags")

	categories := &cobra.Command{
		Use:   "categories",
		Short: "List the categories present in the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix := app.NewIndex(e.cfg, e.log)
			if ix == nil {
				return errNoKnowledge
			}
			for _, c := range ix.Categories() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}

	cmd.AddCommand(search, list, categories)
	return cmd
}

func printDocuments(cmd *cobra.Command, docs []knowledge.Document) {
	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents.")
		return
	}
	for _, d := range docs {
		fmt.Fprintf(out, "%s  %-12s %s", d.ID, d.Category, d.Title)
		if len(d.Tags) > 0 {
			fmt.Fprintf(out, " (%s)", strings.Join(d.Tags, ", "))
		}
		fmt.Fprintln(out)
	}
}
