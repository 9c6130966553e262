package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/search"
)

var (
	searchFilter    string
	searchPlatforms []string
	searchSort      string
	searchPage      int
	searchPerPage   int
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [terms...]",
	Short: "Search repositories on every configured platform",
	Long: `Search GitHub, GitLab and Bitbucket in parallel and print one merged,
de-duplicated, ranked page of results.

Filters use the field:op:value syntax and may be combined with AND, OR,
NOT and parentheses:
  reposcout search "http router" --filter 'language:eq:go AND stars:gt:100'
  reposcout search cli --filter 'stars:>=50 AND NOT archived:eq:true'`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchFilter, "filter", "f", "", "filter expression")
	searchCmd.Flags().StringSliceVarP(&searchPlatforms, "platform", "p", nil, "restrict to platforms (github, gitlab, bitbucket)")
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", "relevance", "sort order: relevance, stars, forks, updated, created")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "result page")
	searchCmd.Flags().IntVar(&searchPerPage, "per-page", 0, "results per page (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

// buildQuery turns command-line input into a search query.
func buildQuery(args []string, filterSrc string, platforms []string, sortName string, page, perPage int) (search.Query, error) {
	pred, err := filter.Compile(filterSrc)
	if err != nil {
		return search.Query{}, fmt.Errorf("parsing filter: %w", err)
	}
	order, err := model.ParseSortOrder(sortName)
	if err != nil {
		return search.Query{}, err
	}
	ps, err := parsePlatforms(platforms)
	if err != nil {
		return search.Query{}, err
	}
	if page < 1 {
		return search.Query{}, fmt.Errorf("page must be at least 1, got %d", page)
	}
	return search.Query{
		Text:      strings.Join(args, " "),
		Filter:    pred,
		Platforms: ps,
		Sort:      order,
		Page:      page,
		PerPage:   perPage,
	}, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args, searchFilter, searchPlatforms, searchSort, searchPage, searchPerPage)
	if err != nil {
		return err
	}

	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	ctx, stop := signalContext(context.Background())
	defer stop()

	res, err := c.Coordinator.Search(ctx, q)
	if errors.Is(err, search.ErrNoResults) {
		logger.Error("search failed on every platform", "error", err)
		fmt.Fprintln(cmd.OutOrStdout(), "No results: every platform failed and nothing is cached.")
		return err
	}
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(w io.Writer, res *search.Result) {
	if len(res.Repositories) == 0 {
		fmt.Fprintln(w, "No repositories matched.")
	} else {
		printRepositories(w, res.Repositories)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Page %d (%d per page), %d results gathered. %s\n",
		res.Page, res.PerPage, res.Total, describeMeta(res.Meta))
}
