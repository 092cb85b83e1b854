package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/config"
	"github.com/joeblew999/plat-webgis/internal/server"
)

// Options defines the CLI flags and env vars of the WebGIS server.
// Flags: --config, --host, --port
// Env vars: SERVICE_CONFIG, SERVICE_HOST, SERVICE_PORT
type Options struct {
	Config string `doc:"Path to a YAML configuration file" short:"c"`
	Host   string `doc:"Host to bind to, overrides server.host"`
	Port   int    `doc:"Port to listen on, overrides server.port" short:"p"`
}

func baseURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func newServer(a *app) (*server.Server, error) {
	return server.New(server.Config{
		BaseURL: baseURL(a.cfg),
		WebDir:  a.cfg.Server.WebDir,
	}, a.services, a.bus, a.metrics, a.logger)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			a       *app
			httpSrv *http.Server
			cancel  context.CancelFunc = func() {}
		)

		hooks.OnStart(func() {
			ctx, stop := context.WithCancel(context.Background())
			cancel = stop

			cfg, err := loadConfig(opts)
			if err != nil {
				fatal(err)
			}
			a, err = newApp(ctx, cfg)
			if err != nil {
				fatal(err)
			}
			srv, err := newServer(a)
			if err != nil {
				fatal(err)
			}
			go a.services.Wizard.Run(ctx)

			httpSrv = &http.Server{
				Addr:              cfg.Addr(),
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			url := baseURL(cfg)
			a.logger.Info("plat-webgis API server starting",
				zap.String("server", url),
				zap.String("docs", url+"/docs"),
				zap.String("openapi", url+"/openapi.json"),
				zap.String("backend", cfg.Store.Backend),
			)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			cancel()
			if a == nil {
				return
			}
			ctx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer done()
			if httpSrv != nil {
				if err := httpSrv.Shutdown(ctx); err != nil {
					a.logger.Warn("graceful shutdown failed", zap.Error(err))
				}
			}
			a.Close(ctx)
		})
	})

	cli.Root().Use = "webgis"
	cli.Root().Short = "WebGIS for premises and activities imported from GeoJSON"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			a, err := offlineApp(opts)
			if err != nil {
				fatal(err)
			}
			defer a.Close(context.Background())
			srv, err := newServer(a)
			if err != nil {
				fatal(err)
			}
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal(fmt.Errorf("marshal spec: %w", err))
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(importCommand(), previewCommand(), exportCommand(), tilesCommand())

	cli.Run()
}

// offlineApp builds the stack on an in-memory store with every external
// service disabled, for commands that only need the route table.
func offlineApp(opts *Options) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	cfg.Store.Backend = "memory"
	cfg.Store.DataDir = ""
	cfg.Redis.URL = ""
	cfg.Export.S3Bucket = ""
	cfg.Observability.OTLPEndpoint = ""
	cfg.Observability.LogLevel = "error"
	return newApp(context.Background(), cfg)
}
