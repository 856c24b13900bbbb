package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"pharmgpt/internal/config"
	"pharmgpt/internal/embedding"
	"pharmgpt/internal/helper"
	"pharmgpt/internal/llmservice"
	"pharmgpt/internal/logging"
	"pharmgpt/internal/models"
	"pharmgpt/internal/parser"
	"pharmgpt/internal/rag"
	"pharmgpt/internal/store"
)

const defaultConfigPath = "./configs/config.yaml"

// knowledgeStore is what the CLI needs beyond the pipeline's view of the
// store; both backends satisfy it.
type knowledgeStore interface {
	rag.Store
	ListDocuments(ctx context.Context, convID, userID string) ([]models.Document, error)
	DeleteConversation(ctx context.Context, convID, userID string) error
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to the config file")
	filePath := flag.String("file", "", "Document file to add to the conversation knowledge base")
	ask := flag.String("ask", "", "Question to answer against the knowledge base")
	query := flag.String("query", "", "Print the context that would be assembled for a question, without generating")
	list := flag.Bool("list", false, "List the conversation's documents")
	deleteDoc := flag.String("delete", "", "Document ID to remove from the conversation")
	purge := flag.Bool("purge", false, "Remove the conversation's entire knowledge base")
	conversation := flag.String("conversation", "default", "Conversation ID to scope all operations to")
	user := flag.String("user", "local", "User ID to scope all operations to")
	local := flag.Bool("local", false, "Use the embedded local store instead of Postgres")
	localPath := flag.String("local-path", "./chromemdb", "Directory for the local store (empty keeps it in memory)")
	initSchema := flag.Bool("init", false, "Create the database schema before running")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Error loading config")
	}
	logging.Setup(&cfg.Log)

	ctx := context.Background()
	st := openStore(ctx, cfg, *local, *localPath, *initSchema)
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	switch {
	case *filePath != "":
		ingestFile(ctx, cfg, st, *filePath, *conversation, *user)
	case *ask != "":
		askQuestion(ctx, cfg, st, *ask, *conversation, *user)
	case *query != "":
		printContext(ctx, cfg, st, *query, *conversation, *user)
	case *list:
		listDocuments(ctx, st, *conversation, *user)
	case *deleteDoc != "":
		if err := st.DeleteDocument(ctx, *deleteDoc, *conversation); err != nil {
			log.Fatal().Err(err).Msg("Error deleting document")
		}
		log.Info().Str("document", *deleteDoc).Msg("Document deleted")
	case *purge:
		if err := st.DeleteConversation(ctx, *conversation, *user); err != nil {
			log.Fatal().Err(err).Msg("Error deleting conversation")
		}
		log.Info().Str("conversation", *conversation).Msg("Conversation knowledge base deleted")
	case *initSchema:
		// Schema creation already ran in openStore.
	default:
		log.Fatal().Msg("Provide one of -file, -ask, -query, -list, -delete or -purge")
	}
}

func openStore(ctx context.Context, cfg *config.Config, local bool, localPath string, initSchema bool) knowledgeStore {
	if local {
		s, err := store.NewLocal(localPath, cfg.RAG.Dimensions)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening local store")
		}
		return s
	}

	sqldb, err := store.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	pg := store.NewPostgres(sqldb, cfg.RAG.Dimensions, cfg.Database.Debug)
	if initSchema {
		if err := pg.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database schema")
		}
		log.Info().Msg("Database schema ready")
	}
	return pg
}

func newPipeline(cfg *config.Config, st knowledgeStore) *rag.Pipeline {
	embedder, err := embedding.Shared(&cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return rag.NewPipeline(st, embedder, parser.NewExtractor(nil), llmservice.NewClient(&cfg.Inference), cfg)
}

func ingestFile(ctx context.Context, cfg *config.Config, st knowledgeStore, path, convID, userID string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document file")
	}

	pipeline := newPipeline(cfg, st)
	doc, err := pipeline.ProcessDocument(ctx, convID, userID, filepath.Base(path), data)
	switch {
	case errors.Is(err, rag.ErrFileTooLarge), errors.Is(err, rag.ErrUploadLimit):
		log.Fatal().Err(err).Msg("Upload rejected")
	case err != nil:
		log.Fatal().Err(err).Msg("Error processing document")
	}

	if doc.Status == models.StatusError {
		log.Error().Str("document", doc.ID).Str("detail", doc.ErrorDetail).Msg("Document could not be processed")
		return
	}
	log.Info().Str("document", doc.ID).Int("chunks", doc.ChunkCount).
		Str("size", helper.FormatFileSize(doc.FileSize)).Msg("Document processed")
}

func askQuestion(ctx context.Context, cfg *config.Config, st knowledgeStore, question, convID, userID string) {
	pipeline := newPipeline(cfg, st)

	fmt.Printf("Question: %s\n\nAssistant: ", question)
	_, err := pipeline.Ask(ctx, question, nil, convID, userID, func(delta string) {
		fmt.Print(delta)
	})
	if err != nil {
		fmt.Println()
		log.Fatal().Err(err).Msg("Error answering question")
	}
	fmt.Println()
}

func printContext(ctx context.Context, cfg *config.Config, st knowledgeStore, question, convID, userID string) {
	pipeline := newPipeline(cfg, st)
	block, err := pipeline.QueryContext(ctx, question, convID, userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error assembling context")
	}
	if block == "" {
		fmt.Printf("No context available in conversation %s\n", convID)
		return
	}
	fmt.Println(block)
}

func listDocuments(ctx context.Context, st knowledgeStore, convID, userID string) {
	docs, err := st.ListDocuments(ctx, convID, userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing documents")
	}
	if len(docs) == 0 {
		fmt.Printf("No documents in conversation %s\n", convID)
		return
	}
	for _, d := range docs {
		detail := ""
		if d.ErrorDetail != "" {
			detail = " (" + d.ErrorDetail + ")"
		}
		fmt.Printf("%s  %-30s %-9s %4d chunks  %s%s\n",
			d.ID[:12], d.Filename, d.Status, d.ChunkCount,
			d.UploadedAt.Format(time.RFC3339), detail)
	}
}
