package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var conversationDescription string

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Manage conversations",
}

var conversationCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		conv, err := newClient().CreateConversation(cmd.Context(), title, conversationDescription)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
		return nil
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation with its documents and messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		ctx := cmd.Context()
		conv, err := c.GetConversation(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s\n", conv.ID, conv.Title)
		if conv.Description != "" {
			fmt.Fprintln(out, conv.Description)
		}

		docs, err := c.ListDocuments(ctx, conv.ID)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			fmt.Fprintln(out, "\nDocuments:")
		}
		for _, doc := range docs {
			fmt.Fprintf(out, "  %s  %-30s %-10s embedding=%s\n", doc.ID, doc.Name, doc.ProcessingStatus, doc.EmbeddingStatus)
		}

		msgs, err := c.ListMessages(ctx, conv.ID)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			fmt.Fprintln(out, "\nMessages:")
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "  [%s] %s\n", m.Role, strings.TrimSpace(m.Content))
		}
		return nil
	},
}

func init() {
	conversationCreateCmd.Flags().StringVarP(&conversationDescription, "description", "d", "", "conversation description")
	conversationCmd.AddCommand(conversationCreateCmd, conversationShowCmd)
	rootCmd.AddCommand(conversationCmd)
}
