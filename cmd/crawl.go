package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
)

// newCrawlCmd runs one crawl in the foreground and prints the final job.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl job and waits for it to finish",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "full",
			Short: "Crawls every configured category",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCrawl(cmd, orchestrator.Request{Type: crawler.JobTypeFull})
			},
		},
		&cobra.Command{
			Use:   "category <url>",
			Short: "Crawls one category and all of its pages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCrawl(cmd, orchestrator.Request{Type: crawler.JobTypeCategory, URL: args[0]})
			},
		},
		&cobra.Command{
			Use:   "product <url>",
			Short: "Refreshes a single product page",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCrawl(cmd, orchestrator.Request{Type: crawler.JobTypeProduct, URL: args[0]})
			},
		},
	)
	return cmd
}

func runCrawl(cmd *cobra.Command, req orchestrator.Request) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	job, runErr := appInstance.Crawls().Run(cmd.Context(), req)
	if job.ID != "" {
		if err := printJSON(cmd, job); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s crawl: %w", req.Type, runErr)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
