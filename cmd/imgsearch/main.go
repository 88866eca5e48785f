// Package main is the imgsearch CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/cli"
	"github.com/hyperjump/imgsearch/internal/config"
	"github.com/hyperjump/imgsearch/internal/embedding"
	"github.com/hyperjump/imgsearch/internal/indexer"
	"github.com/hyperjump/imgsearch/internal/models"
	"github.com/hyperjump/imgsearch/internal/scanner"
	"github.com/hyperjump/imgsearch/internal/search"
	"github.com/hyperjump/imgsearch/internal/server"
	"github.com/hyperjump/imgsearch/internal/session"
	"github.com/hyperjump/imgsearch/internal/storage"
	"github.com/hyperjump/imgsearch/internal/vector"
	"github.com/hyperjump/imgsearch/internal/watcher"
	"github.com/hyperjump/imgsearch/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/imgsearch/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, and a missing default file means built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer(os.Args[2:])
	case "index":
		runIndex(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("imgsearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads the config and builds a logger; debug forces debug logging.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	cfg.Debug = cfg.Debug || debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug))
	return cfg, logger
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-image progress, watcher events)")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var watch server.WatchService
	if cfg.Watch.Enabled {
		w := newFolderWatcher(ctx, cfg, components, logger)
		defer w.Stop()
		watch = w
	}

	srv := server.NewServer(components.Engine, components.Builder, components.Holder, &cfg.Server, logger, watch)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// newFolderWatcher rebuilds the active session whenever its folder changes and
// starts following the restored session, if any.
func newFolderWatcher(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) *watcher.Watcher {
	w := watcher.NewWatcher(
		cfg.Index.Extensions,
		cfg.Index.Recursive,
		func(folder string) {
			report, err := c.Builder.Build(ctx, folder)
			switch {
			case errors.Is(err, indexer.ErrNoImagesFound):
				logger.Info("watched folder has no images", zap.String("folder", folder))
			case err != nil:
				logger.Warn("watch rebuild failed", zap.String("folder", folder), zap.Error(err))
			default:
				logger.Info("watch rebuild done", zap.String("folder", folder), zap.Int("indexed", report.Indexed))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce()),
	)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	if sess := c.Holder.Current(); sess != nil {
		if err := w.Watch(sess.Info.Folder); err != nil {
			logger.Warn("watch restored folder failed", zap.String("folder", sess.Info.Folder), zap.Error(err))
		}
	}
	return w
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = index in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Println("Usage: imgsearch index [flags] <folder>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	folder, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fatalf("Invalid folder: %v", err)
	}

	var resp *models.IndexResponse
	if *serverURL != "" {
		resp, err = newAPIClient(*serverURL).index(folder)
		if err != nil {
			fatalf("Indexing failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		progress := cli.NewIndexProgress(os.Stderr, cli.DefaultProgressEnabled() && format == cli.OutputText)
		components, err := initializeComponents(ctx, cfg, logger, progress.Report)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()

		report, err := components.Builder.Build(ctx, folder)
		progress.Finish()
		if errors.Is(err, indexer.ErrNoImagesFound) {
			fatalf("No images found in %s (previous index discarded)", folder)
		}
		if err != nil {
			fatalf("Indexing failed: %v", err)
		}
		r := report.Response()
		resp = &r
	}
	if err := cli.WriteIndexResult(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument, so "imgsearch search red car --k 3" would otherwise
// leave --k unparsed.
func reorderArgs(args []string) []string {
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

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchRequest turns the search flags into a query. --image wins over --name.
func searchRequest(args []string, imagePath string, byName bool, k int) (*models.SearchQuery, error) {
	q := &models.SearchQuery{Query: buildSearchQuery(args), Mode: models.ModeText, K: k}
	switch {
	case imagePath != "":
		abs, err := filepath.Abs(imagePath)
		if err != nil {
			return nil, err
		}
		q.Query, q.Mode = abs, models.ModeImage
	case byName:
		q.Mode = models.ModeName
	}
	if q.Query == "" {
		return nil, search.ErrEmptyQueryText
	}
	return q, nil
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: imgsearch search [flags] <text>\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  imgsearch search a red car
  imgsearch search --k 10 "dog on a beach"
  imgsearch search --image ./query.jpg          # most similar images to a picture
  imgsearch search --name holiday               # match file names
  imgsearch search --output json sunset         # structured JSON for other apps
`)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the persisted index in-process)")
	imagePath := fs.String("image", "", "search by an image file instead of text")
	byName := fs.Bool("name", false, "search file names instead of image content")
	k := fs.Int("k", 0, "number of results (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(args))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	query, err := searchRequest(fs.Args(), *imagePath, *byName, *k)
	if err != nil {
		printSearchUsage(fs)
		os.Exit(1)
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = newAPIClient(*serverURL).search(query)
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, initErr := initializeComponents(ctx, cfg, logger, nil)
		if initErr != nil {
			fatalf("Failed to initialize: %v", initErr)
		}
		defer components.Close()
		if components.Holder.Current() == nil {
			fmt.Fprintln(os.Stderr, "No folder indexed yet; run `imgsearch index <folder>` first.")
		}
		response, err = components.Engine.Search(ctx, query)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	var st *models.Status
	if *serverURL != "" {
		st, err = newAPIClient(*serverURL).status()
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, nil)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()
		s := components.Builder.Status(context.Background())
		st = &s
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	mock := fs.Bool("mock", false, "use mock embeddings instead of ONNX models")
	_ = fs.Parse(args)

	if err := writeConfigFile(*path, *force, *mock); err != nil {
		fatalf("Init failed: %v", err)
	}
	fmt.Printf("Wrote %s\n", *path)
}

// writeConfigFile saves the built-in defaults to path. An existing file is kept
// unless force is set.
func writeConfigFile(path string, force, mock bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	cfg, err := config.Default()
	if err != nil {
		return err
	}
	if mock {
		cfg.Embedding.Provider = config.ProviderMock
	}
	return config.Save(path, cfg)
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = reset the store directly)")
	_ = fs.Parse(args)

	if *serverURL != "" {
		if err := newAPIClient(*serverURL).reset(); err != nil {
			fatalf("Reset failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, nil)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()
		if err := components.Builder.Reset(context.Background()); err != nil {
			fatalf("Reset failed: %v", err)
		}
	}
	fmt.Println("Index reset.")
}

// Components holds initialized services.
type Components struct {
	Store    *vector.Store
	Embedder embedding.Embedder
	Holder   *session.Holder
	Builder  *indexer.Builder
	Engine   *search.Engine
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// initializeComponents opens the store, builds the embedder and republishes the last
// persisted session. progress may be nil.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, progress indexer.ProgressFunc) (*Components, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	store, err := vector.OpenStore(ctx, cfg.Storage.Dir,
		vector.WithBackend(storage.Open),
		vector.WithLogger(logger),
	)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	holder := &session.Holder{}

	builderOpts := []indexer.BuilderOption{
		indexer.WithLogger(logger),
		indexer.WithCollection(cfg.Storage.Collection),
		indexer.WithScanOptions(scanner.Options{Patterns: cfg.Index.Extensions, Recursive: cfg.Index.Recursive}),
		indexer.WithWorkers(cfg.Index.Workers),
		indexer.WithRateLimit(cfg.Embedding.RateLimit),
		indexer.WithSessionRecorder(sessionRecorder(store)),
	}
	if progress != nil {
		builderOpts = append(builderOpts, indexer.WithProgress(progress))
	}
	builder := indexer.NewBuilder(store, embedder, holder, builderOpts...)

	info, err := lastSession(ctx, store)
	if err != nil {
		logger.Warn("last session unavailable", zap.Error(err))
	}
	if _, err := builder.Restore(ctx, info); err != nil {
		logger.Warn("persisted index not restored", zap.Error(err))
	}

	engine := search.NewEngine(embedder, holder,
		search.WithLogger(logger),
		search.WithLimits(cfg.Search.DefaultK, cfg.Search.MaxK),
	)
	return &Components{
		Store:    store,
		Embedder: embedder,
		Holder:   holder,
		Builder:  builder,
		Engine:   engine,
	}, nil
}

// newEmbedder returns the configured embedder behind an LRU cache. The mock embedder
// is used only when the provider says so; an ONNX model that cannot be loaded is an
// error matching embedding.ErrModelFailure.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case config.ProviderMock:
		logger.Warn("using mock embeddings; search results are not semantic")
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	case config.ProviderONNX, "":
		onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
			VisualModelPath: cfg.Embedding.VisualModelPath,
			TextModelPath:   cfg.Embedding.TextModelPath,
			VocabPath:       cfg.Embedding.VocabPath,
			MergesPath:      cfg.Embedding.MergesPath,
			LibraryPath:     cfg.Embedding.LibraryPath,
			Dimensions:      cfg.Embedding.Dimensions,
			ImageSize:       cfg.Embedding.ImageSize,
			ContextLength:   cfg.Embedding.ContextLength,
		}, embedding.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("onnx provider (set embedding.visual_model_path and embedding.text_model_path, or run `imgsearch init --mock`): %w", err)
		}
		embedder = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize), nil
}

// sessionRecorder persists session summaries through whichever backend the store
// has open; a reset swaps the backend.
func sessionRecorder(store *vector.Store) indexer.SessionRecorder {
	return func(ctx context.Context, info models.SessionInfo) error {
		rec, ok := store.Backend().(storage.SessionRecorder)
		if !ok {
			return nil
		}
		return rec.RecordSession(ctx, info)
	}
}

func lastSession(ctx context.Context, store *vector.Store) (models.SessionInfo, error) {
	rec, ok := store.Backend().(storage.SessionRecorder)
	if !ok {
		return models.SessionInfo{}, nil
	}
	info, err := rec.LastSession(ctx)
	if errors.Is(err, storage.ErrNoSession) {
		return models.SessionInfo{}, nil
	}
	return info, err
}

func printUsage() {
	fmt.Println(`imgsearch - Local image similarity search

Usage:
  imgsearch server [flags]              Start the HTTP server
  imgsearch index [flags] <folder>      Load a folder as the active session (replaces the previous one)
  imgsearch search [flags] <text>       Search images by text, image (--image) or file name (--name)
  imgsearch status [flags]              Show the active session and store status
  imgsearch reset [flags]               Discard the index
  imgsearch init [flags]                Write a config file with the defaults
  imgsearch version                     Show version
  imgsearch help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/imgsearch/config.yaml)
  --server string    Server URL, e.g. http://localhost:8080. Empty runs in-process.

Server Flags:
  --debug            Enable debug logging

Index Flags:
  --output string    Output format: text or json (default: text)

Search Flags:
  --image string     Query image path
  --name             Match file names
  --k int            Number of results (default from config)
  --output string    Output format: text, compact or json (default: text)

Status Flags:
  --output string    Output format: text or json (default: text)

Init Flags:
  --config string    File to write (default: config.yaml)
  --force            Overwrite an existing file
  --mock             Use mock embeddings instead of ONNX models

Examples:
  imgsearch init --mock
  imgsearch index ~/Pictures/holiday
  imgsearch search a dog on the beach
  imgsearch search --image query.jpg --k 10
  imgsearch search --name --server http://localhost:8080 sunset
  imgsearch status --output json
  imgsearch reset`)
}
