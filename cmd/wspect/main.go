package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/wspect/wspect"
	"gopkg.in/natefinch/lumberjack.v2"
)

type config struct {
	cdpURL  string
	logFile string
}

func loadConfig() config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	return config{
		cdpURL:  getEnvOrDefault("WSPECT_CDP_URL", "http://127.0.0.1:9222"),
		logFile: os.Getenv("WSPECT_LOG_FILE"),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// slogAdapter bridges the library logger onto slog.
type slogAdapter struct{}

func (c *slogAdapter) Error(v ...any) { slog.Error(fmt.Sprintln(v...)) }
func (c *slogAdapter) Warn(v ...any)  { slog.Warn(fmt.Sprintln(v...)) }

func setupLogging(logFile string) {
	var w io.Writer = os.Stderr
	if logFile != "" {
		// long-running captures rotate their warning log instead of growing it
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, nil)))
}

func main() {
	var (
		writeFile  = flag.String("w", "", "capture mode: record devtools traffic to FILE")
		readFile   = flag.String("r", "", "replay mode: parse capture FILE")
		port       = flag.String("p", "9222", "port label for captured records")
		jsonOutput = flag.Bool("json", false, "emit NDJSON instead of plain text")
		logFile    = flag.String("log-file", "", "rotating warning log (overrides WSPECT_LOG_FILE)")
	)
	flag.Parse()

	cfg := loadConfig()
	if *logFile != "" {
		cfg.logFile = *logFile
	}
	setupLogging(cfg.logFile)

	switch {
	case *readFile != "":
		if err := runReplay(*readFile, *jsonOutput); err != nil {
			slog.Error("replay failed", "error", err)
			os.Exit(1)
		}
	case *writeFile != "":
		if err := runCapture(cfg, *writeFile, *port); err != nil {
			slog.Error("capture failed", "error", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runReplay(path string, jsonOutput bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	demux := wspect.NewDemultiplexer(&slogAdapter{})
	messages, err := demux.ProcessReader(f)
	if err != nil {
		return err
	}

	if jsonOutput {
		return wspect.WriteNDJSON(os.Stdout, messages)
	}
	for _, m := range messages {
		fmt.Printf("%d\t%s\t%s\n", m.Index, m.Timestamp, m.Text)
	}
	return nil
}

func runCapture(cfg config, path string, port string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	recorder := wspect.NewRecorder(cfg.cdpURL, &slogAdapter{})
	wsURL, err := recorder.DebuggerURL(ctx)
	if err != nil {
		return err
	}

	slog.Info("recording", "url", wsURL, "file", path)
	return recorder.Record(ctx, wsURL, port, f)
}
