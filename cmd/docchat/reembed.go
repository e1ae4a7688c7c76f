package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reembedCmd = &cobra.Command{
	Use:   "reembed [document-id]",
	Short: "Queue embedding generation",
	Long: `Queue embedding generation for one document, or with no argument for every
ready document whose embeddings are missing or failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			job, err := c.EmbedDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "queued job %s for %s\n", job.ID, job.DocumentID)
			return nil
		}
		jobs, err := c.RetryEmbeddings(cmd.Context())
		if err != nil {
			return err
		}
		for _, job := range jobs {
			fmt.Fprintf(out, "queued job %s for %s\n", job.ID, job.DocumentID)
		}
		fmt.Fprintf(out, "%d document(s) queued\n", len(jobs))
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show an embedding job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s  document=%s  status=%s  attempts=%d", job.ID, job.DocumentID, job.Status, job.Attempts)
		if job.ErrorMessage != "" {
			line += "  error=" + job.ErrorMessage
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reembedCmd, jobCmd)
}
