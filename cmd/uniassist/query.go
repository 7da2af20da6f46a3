package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"uniassist/internal/orchestrator"
)

var (
	querySession    string
	queryUser       string
	queryCollection string
	queryTopK       int
	queryJSON       bool
)

// queryCmd asks one question from the command line.
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the assistant one question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		resp := a.orch.Execute(ctx, orchestrator.Request{
			Query:          strings.Join(args, " "),
			SessionID:      querySession,
			UserID:         queryUser,
			Collection:     queryCollection,
			EnableRAG:      true,
			TopK:           queryTopK,
			IncludeSources: true,
		})

		if queryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		fmt.Println(resp.Content)
		if len(resp.Sources) > 0 {
			fmt.Println("\nNguồn:")
			for _, src := range resp.Sources {
				fmt.Printf("  - %s (%.2f)\n", src.Title, src.RelevanceScore)
			}
		}
		for _, art := range resp.Artifacts {
			fmt.Printf("\nTệp đính kèm: %s (%s)\n  %s\n", art.FileName, art.SizeDisplay, art.DownloadURL)
		}
		if resp.Metadata.ErrorKind != "" {
			return fmt.Errorf("query failed: %s", resp.Metadata.ErrorKind)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&querySession, "session", "", "conversation session id")
	queryCmd.Flags().StringVar(&queryUser, "user", "", "user id for personalization")
	queryCmd.Flags().StringVar(&queryCollection, "collection", "", "knowledge base collection")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "retrieval depth (0 = config default)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full response as JSON")
}
