package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"uniassist/internal/docstore"
	"uniassist/internal/ingest"
	"uniassist/internal/rag"
)

var (
	ingestTitle      string
	ingestCollection string
	ingestSourceURL  string
	ingestCategory   string
	ingestReviewer   string
)

// ingestCmd groups knowledge base ingestion operations.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Manage knowledge base ingestion",
}

// ingestFileCmd triages one local file into the review queue.
var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Triage a document file into the review queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		entry, err := a.pipeline.Ingest(ctx, ingest.Payload{
			Title:      titleOrFileName(args[0]),
			Content:    string(content),
			SourceURL:  ingestSourceURL,
			Collection: ingestCollection,
			Category:   ingestCategory,
		})
		if err != nil {
			return err
		}
		fmt.Printf("pending update %s (%s, score %.2f): %s\n",
			entry.ID, entry.DetectionType, entry.SimilarityScore, entry.Title)
		return nil
	},
}

// ingestIndexCmd indexes one file directly, bypassing review. Meant for
// seeding a fresh knowledge base from vetted documents.
var ingestIndexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a vetted document directly, skipping review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		doc := &docstore.Document{
			Title:      titleOrFileName(args[0]),
			FileName:   filepath.Base(args[0]),
			Content:    string(content),
			Collection: ingestCollection,
			Metadata: map[string]any{
				"source_url": ingestSourceURL,
				"category":   ingestCategory,
			},
			ContentHash:          ingest.ContentHash(string(content)),
			PrimaryArtifactIndex: -1,
		}
		if doc.Collection == "" {
			doc.Collection = a.cfg.RAG.Collection
		}
		if err := a.docs.CreateDocument(ctx, doc); err != nil {
			return err
		}
		res, err := a.engine.IndexDocument(ctx, rag.IndexRequest{
			SourceID:   doc.ID,
			Title:      doc.Title,
			Content:    doc.Content,
			Collection: doc.Collection,
			Chunking:   a.chunking(),
		})
		if err != nil {
			return err
		}
		doc.ChunkCount = res.ChunksCreated
		doc.VectorIDs = res.VectorIDs
		if err := a.docs.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		fmt.Printf("indexed %s: %d chunks in %s\n", doc.ID, res.ChunksCreated, res.Collection)
		return nil
	},
}

// ingestPendingCmd lists entries waiting for review.
var ingestPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending updates awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.docs.ListPendingUpdates(ctx, docstore.StatusPending, 50)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no pending updates")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-9s  %.2f  %s\n", e.ID, e.DetectionType, e.SimilarityScore, e.Title)
		}
		return nil
	},
}

// ingestApproveCmd promotes a pending update into the knowledge base.
var ingestApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending update and index it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.pipeline.Approve(ctx, args[0], ingestReviewer)
		if err != nil {
			return err
		}
		fmt.Printf("approved: document %s (%s)\n", doc.ID, doc.Title)
		return nil
	},
}

// ingestRejectCmd discards a pending update.
var ingestRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.pipeline.Reject(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("rejected", args[0])
		return nil
	},
}

func titleOrFileName(path string) string {
	if ingestTitle != "" {
		return ingestTitle
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func init() {
	for _, c := range []*cobra.Command{ingestFileCmd, ingestIndexCmd} {
		c.Flags().StringVar(&ingestTitle, "title", "", "document title (defaults to file name)")
		c.Flags().StringVar(&ingestCollection, "collection", "", "target collection")
		c.Flags().StringVar(&ingestSourceURL, "source-url", "", "origin URL of the document")
		c.Flags().StringVar(&ingestCategory, "category", "", "document category")
	}
	ingestApproveCmd.Flags().StringVar(&ingestReviewer, "reviewer", "cli", "reviewer name recorded on approval")

	ingestCmd.AddCommand(ingestFileCmd)
	ingestCmd.AddCommand(ingestIndexCmd)
	ingestCmd.AddCommand(ingestPendingCmd)
	ingestCmd.AddCommand(ingestApproveCmd)
	ingestCmd.AddCommand(ingestRejectCmd)
}
