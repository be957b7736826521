// Package main is the KB Copilot CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbcopilot/internal/assistant"
	"github.com/hyperjump/kbcopilot/internal/cli"
	"github.com/hyperjump/kbcopilot/internal/config"
	"github.com/hyperjump/kbcopilot/internal/embedding"
	"github.com/hyperjump/kbcopilot/internal/extract"
	"github.com/hyperjump/kbcopilot/internal/indexer"
	"github.com/hyperjump/kbcopilot/internal/ingest"
	"github.com/hyperjump/kbcopilot/internal/keyword"
	"github.com/hyperjump/kbcopilot/internal/llm"
	"github.com/hyperjump/kbcopilot/internal/models"
	"github.com/hyperjump/kbcopilot/internal/search"
	"github.com/hyperjump/kbcopilot/internal/server"
	"github.com/hyperjump/kbcopilot/internal/storage"
	"github.com/hyperjump/kbcopilot/internal/watcher"
	"github.com/hyperjump/kbcopilot/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "config.yaml"
	defaultSeedDir    = "data/documents"
)

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// errUsage means the command printed its usage.
var errUsage = errors.New("invalid arguments")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "server":
		return runServer(args)
	case "seed":
		return runSeed(args)
	case "add":
		return runAdd(args)
	case "index":
		return runIndex(args)
	case "index-all":
		return runIndexAll(args)
	case "ask":
		return runAsk(args)
	case "stats":
		return runStats(args)
	case "list":
		return runList(args)
	case "show":
		return runShow(args)
	case "delete":
		return runDelete(args)
	case "init":
		return runInit(args)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "kbcopilot version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return errUsage
	}
}

// commonFlags are accepted by every command that opens the knowledge base.
type commonFlags struct {
	config *string
	output *string
	debug  *bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, &commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		output: fs.String("output", "text", "output format: text or json"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
	}
}

// argsReorder moves flags that appear after positional arguments to the front so
// flag.Parse sees them: "kbcopilot ask remote work --top-k 3".
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so multi-word queries work with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Logger       *zap.Logger
	Storage      storage.Storage
	Embedder     embedding.Embedder
	KeywordIndex keyword.KeywordIndex
	Engine       *search.Engine
	Indexer      *indexer.Indexer
	Ingester     *ingest.Ingester
	Generator    llm.Generator // nil when no generation API key is configured
	Assistant    *assistant.Assistant
}

// Close releases every open resource.
func (c *Components) Close() {
	if c.Generator != nil {
		_ = c.Generator.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	_ = c.Logger.Sync()
}

// open loads the config named by flags and initializes all components.
func open(ctx context.Context, flags *commonFlags) (*Components, error) {
	cfg, err := config.Load(*flags.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *flags.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if !debugMode {
		// Keep command output clean; the server logs at info level regardless.
		logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	}
	return initializeComponents(ctx, cfg, logger)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.New(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Embedder, err = llm.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	keywordPath := cfg.Storage.KeywordIndexPath
	if cfg.Storage.Driver == config.DriverMemory {
		keywordPath = ""
	}
	kw, err := keyword.NewBleveIndex(keywordPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	c.Indexer, err = indexer.NewIndexer(store, c.Embedder, kw, &cfg.Indexing,
		indexer.WithLogger(logger), indexer.WithFuzziness(cfg.Search.Fuzziness))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}
	if n, err := c.Indexer.SyncKeywordIndex(ctx); err != nil {
		logger.Warn("keyword index sync failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("keyword index synced", zap.Int("documents", n))
	}

	c.Engine = search.NewEngine(store, c.Embedder, &cfg.Search, search.WithLogger(logger))
	c.Ingester = ingest.NewIngester(c.Indexer, extract.NewExtractor(), &cfg.Ingest, ingest.WithLogger(logger))

	if cfg.Generation.APIKey != "" {
		c.Generator, err = llm.NewGenerator(ctx, &cfg.Generation)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
	} else {
		logger.Warn("generation API key not configured; chat requests will fail",
			zap.String("provider", cfg.Generation.Provider))
	}
	c.Assistant = assistant.New(c.Engine, c.Generator, store, &cfg.Search, assistant.WithLogger(logger))

	ok = true
	return c, nil
}

func outputFormat(flags *commonFlags) (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(*flags.output)
}

func runServer(args []string) error {
	fs, flags := newFlagSet("server")
	watch := fs.Bool("watch", false, "watch ingest directories for changes (overrides config)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := config.Load(*flags.config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *flags.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("config loaded", zap.String("config_path", *flags.config), zap.Bool("debug", debugMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if (cfg.Ingest.Watch || *watch) && len(cfg.Ingest.Directories) > 0 {
		w := watcher.NewWatcher(cfg.Ingest.Directories, cfg.Ingest.Extensions, components.Ingester,
			watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		go w.SyncExistingFiles()
	}

	srv := server.NewServer(components.Assistant, components.Indexer, components.Storage, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runSeed(args []string) error {
	fs, flags := newFlagSet("seed")
	reset := fs.Bool("reset", true, "delete all existing documents first")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	dir := defaultSeedDir
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}
	// A manifest path seeds the directory it lives in.
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Ingester.Seed(ctx, dir, *reset)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	return cli.WriteFileResults(stdout, results, format)
}

func runAdd(args []string) error {
	fs, flags := newFlagSet("add")
	title := fs.String("title", "", "document title (inline document)")
	content := fs.String("content", "", "document content (inline document)")
	source := fs.String("source", "", "document source")
	category := fs.String("category", "", "document category")
	noIndex := fs.Bool("no-index", false, "store the document without indexing it")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	if *content == "" && fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kbcopilot add [flags] <file-or-directory>")
		fmt.Fprintln(os.Stderr, "       kbcopilot add --title <title> --content <text> [flags]")
		return errUsage
	}

	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	if *content != "" {
		doc, err := c.Indexer.CreateDocument(ctx, &models.DocumentInput{
			Title:     *title,
			Content:   *content,
			Source:    *source,
			Category:  *category,
			AutoIndex: !*noIndex,
		})
		if err != nil {
			return err
		}
		withCount, err := c.Indexer.GetDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		return cli.WriteDocument(stdout, withCount, format)
	}

	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	var results []ingest.FileResult
	if info.IsDir() {
		results, err = c.Ingester.IngestDirectory(ctx, path)
		if err != nil {
			return err
		}
	} else {
		res, err := c.Ingester.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		results = []ingest.FileResult{*res}
	}
	return cli.WriteFileResults(stdout, results, format)
}

func runIndex(args []string) error {
	fs, flags := newFlagSet("index")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kbcopilot index [flags] <document-id>")
		return errUsage
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Indexer.IndexDocument(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Indexed %s: %d chunks\n", fs.Arg(0), n)
	return nil
}

func runIndexAll(args []string) error {
	fs, flags := newFlagSet("index-all")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.Indexer.IndexAllDocuments(ctx)
	if err != nil {
		return err
	}
	return cli.WriteIndexResults(stdout, results, format)
}

func runAsk(args []string) error {
	fs, flags := newFlagSet("ask")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	query := joinArgs(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: kbcopilot ask [flags] <question>")
		return errUsage
	}

	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Config.RequireGeneration(); err != nil {
		return err
	}

	result, err := c.Assistant.Query(ctx, query, *topK)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(stdout, query, result, format)
}

func runStats(args []string) error {
	fs, flags := newFlagSet("stats")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Assistant.Stats(ctx)
	if err != nil {
		return err
	}
	var diskUsage *int64
	if c.Config.Storage.Driver != config.DriverMemory {
		if n, err := storage.DiskUsage(&c.Config.Storage); err == nil {
			diskUsage = &n
		} else {
			c.Logger.Warn("disk usage unavailable", zap.Error(err))
		}
	}
	return cli.WriteStats(stdout, stats, diskUsage, format)
}

func runList(args []string) error {
	fs, flags := newFlagSet("list")
	q := fs.String("q", "", "full-text filter over titles and content")
	limit := fs.Int("limit", 0, "maximum number of matches for --q")
	fuzziness := fs.Int("fuzziness", -1, "edit distance for typo-tolerant --q matching (0-2, default from config)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	var docs []*models.DocumentWithChunkCount
	if *q != "" {
		if *fuzziness >= 0 {
			docs, err = c.Indexer.SearchDocumentsFuzzy(ctx, *q, *limit, *fuzziness)
		} else {
			docs, err = c.Indexer.SearchDocuments(ctx, *q, *limit)
		}
	} else {
		docs, err = c.Indexer.ListDocuments(ctx)
	}
	if err != nil {
		return err
	}
	return cli.WriteDocuments(stdout, docs, format)
}

func runShow(args []string) error {
	fs, flags := newFlagSet("show")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kbcopilot show [flags] <document-id>")
		return errUsage
	}
	format, err := outputFormat(flags)
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	doc, err := c.Indexer.GetDocument(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return cli.WriteDocument(stdout, doc, format)
}

func runDelete(args []string) error {
	fs, flags := newFlagSet("delete")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kbcopilot delete [flags] <document-id>")
		return errUsage
	}
	ctx := context.Background()
	c, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Indexer.DeleteDocument(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Document deleted: %s\n", fs.Arg(0))
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *configPath)
	}
	if err := config.Save(*configPath, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote default config to %s\n", *configPath)
	return nil
}

func printUsage() {
	fmt.Fprintln(stdout, `kbcopilot - knowledge base assistant with cited answers

Usage:
  kbcopilot server [flags]                 Start the HTTP API
  kbcopilot seed [flags] [dir|manifest]    Load documents (default: data/documents)
  kbcopilot add [flags] <file-or-dir>      Ingest files as documents
  kbcopilot add --title T --content C      Add an inline document
  kbcopilot index [flags] <id>             (Re)index one document
  kbcopilot index-all [flags]              Index every unindexed document
  kbcopilot ask [flags] <question>         Answer a question with citations
  kbcopilot stats [flags]                  Show knowledge base statistics
  kbcopilot list [flags]                   List documents
  kbcopilot show [flags] <id>              Show one document
  kbcopilot delete [flags] <id>            Delete a document and its chunks
  kbcopilot init [--config path]           Write a default config file
  kbcopilot version                        Show version

Common Flags:
  --config string    Config file path (default: config.yaml; missing file uses defaults)
  --output string    Output format: text or json (default: text)
  --debug            Enable debug logging

Server Flags:
  --watch            Watch ingest.directories and keep documents in sync

Seed Flags:
  --reset            Delete existing documents first (default: true)

Ask Flags:
  --top-k int        Number of chunks to retrieve

List Flags:
  --q string         Full-text filter
  --limit int        Maximum number of matches

Examples:
  kbcopilot init
  kbcopilot seed
  kbcopilot ask what is the remote work policy
  kbcopilot ask --output json "How do I reset my password?"
  kbcopilot list --q security
  kbcopilot server --watch`)
}
