package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/search"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <[platform:]owner/name>",
	Short: "Show one repository",
	Long: `Show the metadata of one repository, served from the cache while it is
fresh. Without a platform prefix every configured platform is tried in
priority order:
  reposcout show gh:golang/go
  reposcout show gitlab-org/gitlab`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var readmeCmd = &cobra.Command{
	Use:   "readme <[platform:]owner/name>",
	Short: "Print a repository README",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadme,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the repository as JSON")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(readmeCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ref, err := search.ParseRef(args[0])
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

	ent, err := c.Coordinator.Show(ctx, ref)
	if err != nil {
		return fmt.Errorf("showing %s: %w", ref, err)
	}

	if showJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*search.Entity
			Health model.Health
		}{ent, ent.Repository.Health(time.Now())})
	}
	printEntity(cmd.OutOrStdout(), ent)
	return nil
}

func printEntity(w io.Writer, ent *search.Entity) {
	r := ent.Repository
	fmt.Fprintf(w, "%s  (%s)\n", r.FullName(), r.Platform)
	if r.Description != "" {
		fmt.Fprintln(w, r.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "URL:        %s\n", r.URL)
	if r.Homepage != "" {
		fmt.Fprintf(w, "Homepage:   %s\n", r.Homepage)
	}
	fmt.Fprintf(w, "Stars:      %d\n", r.Stars)
	fmt.Fprintf(w, "Forks:      %d\n", r.Forks)
	fmt.Fprintf(w, "Issues:     %d\n", r.OpenIssues)
	if r.Language != "" {
		fmt.Fprintf(w, "Language:   %s\n", r.Language)
	}
	if r.License != "" {
		fmt.Fprintf(w, "License:    %s\n", r.License)
	}
	if len(r.Topics) > 0 {
		fmt.Fprintf(w, "Topics:     %s\n", strings.Join(r.Topics, ", "))
	}
	if !r.PushedAt.IsZero() {
		fmt.Fprintf(w, "Pushed:     %s\n", formatTimeAgo(r.PushedAt))
	}
	if r.Archived {
		fmt.Fprintln(w, "Archived:   yes")
	}
	h := r.Health(time.Now())
	fmt.Fprintf(w, "Health:     %d/100 (%s, %s)\n", h.Score, h.Status, h.Maintenance)
	fmt.Fprintf(w, "            activity %d/30, community %d/25, responsiveness %d/20, maturity %d/15, documentation %d/10\n",
		h.Activity, h.Community, h.Responsiveness, h.Maturity, h.Documentation)
	fmt.Fprintln(w)
	fmt.Fprintln(w, describeMeta(ent.Meta))
}

func runReadme(cmd *cobra.Command, args []string) error {
	ref, err := search.ParseRef(args[0])
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

	text, meta, err := c.Coordinator.Readme(ctx, ref)
	if err != nil {
		return fmt.Errorf("fetching readme for %s: %w", ref, err)
	}
	if meta.Stale {
		logger.Warn("serving stale readme from cache", "repo", ref.String())
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
