package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"steamshots/internal/auth"
	"steamshots/internal/config"
	"steamshots/internal/httpserver"
	"steamshots/internal/logging"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	var (
		cfgPath = flag.String("config", "", "path to config yaml (optional)")
		port    int
	)
	flag.IntVar(&port, "port", config.DefaultPort, "listen port")
	flag.IntVar(&port, "p", config.DefaultPort, "listen port (shorthand)")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port", "p":
			cfg.Port = port
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	// An unresolvable root is not fatal: the listing and image routes answer
	// 500 until the process is restarted with a usable home directory.
	rootDir := cfg.ResolveRoot(os.UserHomeDir)
	if rootDir.Err != nil {
		logging.Error("root directory unresolved", zap.Error(rootDir.Err))
	} else if st, err := os.Stat(rootDir.Dir); err != nil || !st.IsDir() {
		logging.Warn("root directory not readable yet", zap.String("root", rootDir.Dir))
	}

	srv, err := httpserver.New(httpserver.Options{Config: cfg, Root: rootDir})
	if err != nil {
		logging.Fatal("server init", zap.Error(err))
	}
	httpSrv := srv.HTTPServer()

	go func() {
		logging.Info("steamshots listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("root", rootDir.Dir),
			zap.Bool("auth", auth.HasAuth(cfg.Auth)),
			zap.Bool("webdav", cfg.WebDAV.Enabled),
			zap.Bool("metrics", cfg.Metrics.Enabled))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logging.Error("forced shutdown", zap.Error(err))
	}
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: steamshots passwd -p <password>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := auth.HashPassword(*password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(h)
}
