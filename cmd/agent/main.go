package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chih3b/SanteConnect/internal/adapter/channel"
	"github.com/chih3b/SanteConnect/internal/adapter/drugdb"
	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "version", "--version":
		fmt.Println("santeconnect-agent", version)
		return
	case "serve":
		err = runServe()
	case "process":
		err = runProcess(os.Args[2:], os.Stdout)
	case "status":
		err = runStatus(os.Stdout)
	case "seed-db":
		err = runSeedDB(os.Args[2:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'santeconnect-agent --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`santeconnect-agent - prescription OCR and medication lookup agents

USAGE:
    santeconnect-agent COMMAND [FLAGS]

COMMANDS:
    serve                     Run the HTTP API
    process IMAGE             Run the OCR pipeline on one image and print the result
        --mode MODE           full, segment_only or ocr_only (default from config)
        --no-phi              Skip PHI filtering
        --no-drugs            Skip medication extraction
    status                    Print the agent graph and its capabilities
    seed-db FILE              Load a drugs JSON file into the local medication store
    version                   Print the version

FLAGS:
    -h, --help                Show this help message
    --config PATH             Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional, defaults apply when missing)
    Environment: SANTE_* variables override config

EXAMPLES:
    santeconnect-agent serve
    santeconnect-agent process rx.jpg --mode ocr_only
    santeconnect-agent seed-db data/drugs.json`)
}

func runServe() error {
	rt, err := initRuntime(configPath(os.Args))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := channel.NewHTTPServer(rt.cfg.HTTP, rt.factory, rt.log)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	rt.log.Info("santeconnect agent serving",
		"addr", srv.Addr(),
		"tools", len(rt.factory.Tools().List()),
		"workflows", len(rt.factory.Workflows().List()),
		"batch_concurrency", rt.cfg.Pipeline.BatchConcurrency,
	)

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Stop(shutdownCtx)
}

// processFlags are the options of the process command.
type processFlags struct {
	Image   string
	Mode    string
	NoPHI   bool
	NoDrugs bool
}

func parseProcessFlags(args []string) (processFlags, error) {
	var f processFlags
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--mode" && i+1 < len(args):
			f.Mode = args[i+1]
			i++
		case strings.HasPrefix(a, "--mode="):
			f.Mode = strings.TrimPrefix(a, "--mode=")
		case a == "--no-phi":
			f.NoPHI = true
		case a == "--no-drugs":
			f.NoDrugs = true
		case a == "--config" && i+1 < len(args):
			i++
		case strings.HasPrefix(a, "--config="):
		case strings.HasPrefix(a, "-"):
			return f, fmt.Errorf("unknown flag %s", a)
		case f.Image == "":
			f.Image = a
		default:
			return f, fmt.Errorf("unexpected argument %s", a)
		}
	}
	if f.Image == "" {
		return f, errors.New("an image path is required")
	}
	switch f.Mode {
	case "", domain.ModeFull, domain.ModeOCROnly, domain.ModeSegmentOnly:
	default:
		return f, fmt.Errorf("unknown mode %q", f.Mode)
	}
	return f, nil
}

// taskContext builds the request context for the process command.
func (f processFlags) taskContext() domain.TaskContext {
	tc := domain.TaskContext{Mode: f.Mode}
	if f.NoPHI {
		tc.FilterPHI = domain.Ptr(false)
	}
	if f.NoDrugs {
		tc.ExtractDrugs = domain.Ptr(false)
	}
	return tc
}

func runProcess(args []string, out io.Writer) error {
	flags, err := parseProcessFlags(args)
	if err != nil {
		return err
	}

	file, err := os.Open(flags.Image)
	if err != nil {
		return err
	}
	defer file.Close()
	img, err := imaging.Decode(file)
	if err != nil {
		return err
	}

	rt, err := initRuntime(configPath(os.Args))
	if err != nil {
		return err
	}
	defer rt.Close()

	tc := flags.taskContext()
	tc.Image = img
	mode := flags.Mode
	if mode == "" {
		mode = rt.cfg.Pipeline.Mode
	}
	resp := rt.factory.Build().Process(context.Background(), "Process image with mode: "+mode, tc)
	if err := writeJSON(out, resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}

func runStatus(out io.Writer) error {
	rt, err := initRuntime(configPath(os.Args))
	if err != nil {
		return err
	}
	defer rt.Close()

	return writeJSON(out, map[string]any{
		"version":   version,
		"system":    rt.factory.Build().SystemStatus(),
		"workflows": rt.factory.Workflows().List(),
	})
}

func runSeedDB(args []string, out io.Writer) error {
	var path string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" {
			i++
			continue
		}
		if !strings.HasPrefix(args[i], "--config=") {
			path = args[i]
		}
	}
	if path == "" {
		return errors.New("a drugs JSON file is required")
	}

	cfg, err := config.Load(configPath(os.Args))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	n, total, err := seedStore(context.Background(), cfg.Drugs.StorePath, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "loaded %d medications into %s (%d total)\n", n, cfg.Drugs.StorePath, total)
	return nil
}

// seedStore upserts the medications in seedPath into the store at storePath.
func seedStore(ctx context.Context, storePath, seedPath string) (loaded, total int, err error) {
	if storePath == "" {
		return 0, 0, errors.New("drugs.store_path is not configured")
	}
	meds, err := drugdb.LoadSeedFile(seedPath)
	if err != nil {
		return 0, 0, err
	}
	store, err := drugdb.OpenStore(storePath)
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	if loaded, err = store.Upsert(ctx, meds); err != nil {
		return 0, 0, err
	}
	total, err = store.Count(ctx)
	return loaded, total, err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SANTE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
