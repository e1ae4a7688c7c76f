package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docchat/pkg/client"
)

var (
	chatURL    string
	ingestURL  string
	indexerURL string
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your documents",
	Long: `docchat talks to the chat, ingest and indexer services.

Create a conversation, upload documents into it, then ask questions that are
answered from the uploaded content.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&chatURL, "chat-url", envOr("DOCCHAT_CHAT_URL", "http://localhost:8083"), "chat service base URL")
	rootCmd.PersistentFlags().StringVar(&ingestURL, "ingest-url", envOr("DOCCHAT_INGEST_URL", "http://localhost:8081"), "ingest service base URL")
	rootCmd.PersistentFlags().StringVar(&indexerURL, "indexer-url", envOr("DOCCHAT_INDEXER_URL", "http://localhost:8082"), "indexer service base URL")
}

func newClient() *client.Client {
	return client.New(client.Endpoints{Chat: chatURL, Ingest: ingestURL, Indexer: indexerURL})
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
