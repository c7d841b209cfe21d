package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/itemstore"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/manager"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/facets"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

const snippetWidth = 72

// openArchive indexes the items file behind an in-process worker.
func openArchive(ctx context.Context) (*manager.Manager, error) {
	archive, err := itemstore.NewFileStore(itemsPath).Load(ctx, "")
	if err != nil {
		return nil, err
	}
	mgr := manager.NewLocal(ctx, manager.Options{Debounce: -1})
	itemstore.Apply(mgr, archive)
	if err := mgr.Flush(ctx); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("indexing %s: %w", itemsPath, err)
	}
	return mgr, nil
}

func newQueryCmd() *cobra.Command {
	var (
		limit   int
		sort    string
		scope   string
		budget  int
		explain bool
	)
	c := &cobra.Command{
		Use:   "query <query...>",
		Short: "Run a search query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()
			mgr, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()

			req := manager.SearchRequest{
				Query:        strings.Join(args, " "),
				Limit:        limit,
				SortMode:     sort,
				Scope:        scope,
				DebugExplain: explain,
			}
			if c.Flags().Changed("budget") {
				req.BudgetMs = &budget
			}
			res, err := mgr.RunSearch(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(c.OutOrStdout(), res)
			}
			return printResult(c.OutOrStdout(), res)
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	c.Flags().StringVarP(&sort, "sort", "s", "date", "sort: date, date-asc, score, score-asc, replyTo, relevance")
	c.Flags().StringVar(&scope, "scope", "", "scope: authored or all (overrides scope: in the query)")
	c.Flags().IntVar(&budget, "budget", 0, "time budget in milliseconds")
	c.Flags().BoolVar(&explain, "explain", false, "include scoring explanations")
	return c
}

func newFacetsCmd() *cobra.Command {
	var scope string
	c := &cobra.Command{
		Use:   "facets [query...]",
		Short: "Count items by type, author and year",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()
			mgr, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer mgr.Close()

			res := mgr.Facets(strings.Join(args, " "), scope)
			if asJSON {
				return printJSON(c.OutOrStdout(), res)
			}
			return printFacets(c.OutOrStdout(), res)
		},
	}
	c.Flags().StringVar(&scope, "scope", "", "scope: authored or all")
	return c
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query...>",
		Short: "Show how a query is parsed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ast := parser.Parse(strings.Join(args, " "))
			if asJSON {
				return printJSON(c.OutOrStdout(), ast)
			}
			w := c.OutOrStdout()
			fmt.Fprintf(w, "canonical: %s\n", ast.Canonical())
			if scope := ast.Scope(); scope != "" {
				fmt.Fprintf(w, "scope: %s\n", scope)
			}
			for _, clause := range ast.Clauses {
				fmt.Fprintf(w, "  %-8s %s\n", clause.Kind, clause.String())
			}
			for _, warning := range ast.Warnings {
				fmt.Fprintf(w, "warning: %s: %s\n", warning.Code, warning.Message)
			}
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		userID     string
		configPath string
	)
	c := &cobra.Command{
		Use:   "import",
		Short: "Store the items file in PostgreSQL for a user",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Archive.UserID
			}
			archive, err := itemstore.NewFileStore(itemsPath).Load(ctx, userID)
			if err != nil {
				return err
			}
			archive.UserID = userID

			db, err := postgres.New(cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()
			store := itemstore.NewPostgresStore(db)
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			if err := store.Save(ctx, archive); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "imported %d authored and %d context items for %s\n",
				len(archive.Authored), len(archive.Context), userID)
			return nil
		},
	}
	c.Flags().StringVarP(&userID, "user", "u", "", "archive owner (defaults to archive.userId)")
	c.Flags().StringVarP(&configPath, "config", "c", "", "config file with postgres settings")
	return c
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *manager.SearchResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range res.Items {
		item := &res.Items[i]
		date, _, _ := strings.Cut(item.PostedAt, "T")
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%s\n", date, item.Type(), item.BaseScore, item.User.Name(), headline(item))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	d := res.Diagnostics
	fmt.Fprintf(w, "\n%d of %d results in %dms (%s)", len(res.Items), res.Total, d.TookMs, d.ParseState)
	if d.PartialResults {
		fmt.Fprint(w, ", partial")
	}
	fmt.Fprintln(w)
	for _, warning := range d.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warning.Code, warning.Message)
	}
	for _, line := range res.DebugExplain {
		fmt.Fprintf(w, "explain: %s\n", line)
	}
	return nil
}

func printFacets(w io.Writer, res facets.Result) error {
	for _, g := range res.Groups {
		fmt.Fprintf(w, "%s\n", g.Name)
		for _, f := range g.Facets {
			marker := " "
			if f.Active {
				marker = "*"
			}
			fmt.Fprintf(w, " %s %-24s %d\n", marker, f.Label, f.Count)
		}
	}
	if res.Delayed {
		fmt.Fprintln(w, "(facet computation exceeded its budget)")
	}
	return nil
}

// headline is the post title, or the start of a comment's text.
func headline(item *proto.Item) string {
	if item.Title != nil {
		return *item.Title
	}
	text := normalize.MarkdownToText(item.Markdown())
	if strings.TrimSpace(text) == "" {
		text = normalize.HTMLToText(item.HTMLBody)
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > snippetWidth {
		text = string(r[:snippetWidth]) + "…"
	}
	return text
}
