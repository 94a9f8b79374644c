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

	passportphoto "github.com/Priyanka-collab/passport-photo-generator"
	"github.com/Priyanka-collab/passport-photo-generator/internal/config"
	"github.com/Priyanka-collab/passport-photo-generator/internal/logging"
	"github.com/Priyanka-collab/passport-photo-generator/internal/server"
	"github.com/gin-gonic/gin"
)

func main() {
	var configPath, logLevel string
	var port int

	flag.StringVar(&configPath, "config", "", "config file (defaults are used when empty)")
	flag.IntVar(&port, "port", 0, "listen port (default from config or PORT)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv()
	if port > 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	gen, err := passportphoto.NewWithConfig(cfg, log)
	if err != nil {
		log.Fatal(err)
	}

	h := gen.Health()
	log.WithField("enhancement", h.Enabled).WithField("has_key", h.HasKey).Info("passport photo generator ready")
	if h.LooksLikeModelPage {
		log.Warn("enhancement.url looks like a model web page, not an API endpoint")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(gen, cfg.Server, log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Info("server stopped")
}
