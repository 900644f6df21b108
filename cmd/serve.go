package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WFHTask/AI-interview/internal/httpapi"
	"github.com/WFHTask/AI-interview/internal/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interview HTTP API",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "listen address (default :8080)")
	viper.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr"))
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the ai-interview server", zap.String("version", currentVersion()))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	c, err := build(ctx, config, logger)
	if err != nil {
		logger.Fatal("wiring components", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("closing components", zap.Error(err))
		}
	}()

	app := httpapi.NewApp(c.service, config.HTTP, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", config.HTTP.Addr))
		return app.Listen(config.HTTP.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		c.limiter.Run(gctx, config.SweepInterval)
		return nil
	})
	g.Go(func() error {
		c.service.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	c.service.Wait()
	c.engine.Wait()
	logger.Info("bye")
}

// redacted returns a copy of the config safe for debug logs.
func redacted(config *Config) Config {
	out := *config
	if out.AI != nil && out.AI.Gemini != nil {
		ai, gemini := *out.AI, *out.AI.Gemini
		if gemini.APIKey != "" {
			gemini.APIKey = "***"
		}
		ai.Gemini = &gemini
		out.AI = &ai
	}
	if out.Storage != nil && out.Storage.DSN != "" {
		storage := *out.Storage
		storage.DSN = "***"
		out.Storage = &storage
	}
	if out.Redis != nil && out.Redis.Password != "" {
		redis := *out.Redis
		redis.Password = "***"
		out.Redis = &redis
	}
	if out.Notify != nil && out.Notify.WebhookURL != "" {
		notify := *out.Notify
		notify.WebhookURL = "***"
		out.Notify = &notify
	}
	return out
}
