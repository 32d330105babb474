package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-wayfind/internal/api"
	"github.com/joeblew999/plat-wayfind/internal/catalog"
	"github.com/joeblew999/plat-wayfind/internal/logging"
	"github.com/joeblew999/plat-wayfind/internal/server"
)

// Options defines all CLI flags and env vars for the wayfinding server.
// Flags: --host, --port, --data-dir, --web-dir, --catalog-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host          string `doc:"Host to bind to" default:"0.0.0.0"`
	Port          int    `doc:"Port to listen on" short:"p" default:"8086"`
	PublicURL     string `doc:"URL browsers use to reach the server (default http://localhost:<port>)"`
	DataDir       string `doc:"Web root holding json/, icons/ and protomaps/" default:"web"`
	WebDir        string `doc:"Directory overriding the embedded templates"`
	CatalogURL    string `doc:"Fetch the catalog from this web root instead of data-dir"`
	SessionIdle   int    `doc:"Minutes a viewer session may idle before it expires" default:"30"`
	DisableSearch bool   `doc:"Skip building the DuckDB search index"`
	LogLevel      string `doc:"trace, debug, info, warn or error; prefix console: for text output" default:"info"`
}

func (o *Options) publicURL() string {
	if o.PublicURL != "" {
		return o.PublicURL
	}
	host := o.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, o.Port)
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		PublicURL:     opts.publicURL(),
		DataDir:       opts.DataDir,
		WebDir:        opts.WebDir,
		CatalogURL:    opts.CatalogURL,
		SessionIdle:   time.Duration(opts.SessionIdle) * time.Minute,
		DisableSearch: opts.DisableSearch,
		Logger:        logging.New(opts.LogLevel),
	})
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	// A missing .env is fine; real env vars always win.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := logging.New(opts.LogLevel)
		var httpSrv *http.Server
		var cancel context.CancelFunc

		hooks.OnStart(func() {
			srv, err := newServer(opts)
			if err != nil {
				log.Fatal().Err(err).Msg("server setup failed")
			}
			defer srv.Close()

			var ctx context.Context
			ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			go srv.Run(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = httpSrv.Shutdown(shutdown)
			}()

			base := opts.publicURL()
			log.Info().
				Str("addr", addr).
				Str("viewer", base+"/viewer").
				Str("docs", base+"/docs").
				Str("openapi", base+"/openapi.json").
				Str("data", opts.DataDir).
				Msg("plat-wayfind server starting")

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
		})
	})

	cli.Root().Use = "wayfind"
	cli.Root().Short = "Indoor wayfinding map for the EuroAirport terminal"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.DisableSearch = true
			opts.LogLevel = "off"
			srv, err := newServer(opts)
			if err != nil {
				fail("Error building server: %v", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// check subcommand: catalog data-quality report
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Audit the catalog and print a YAML report",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			var loader server.Loader = catalog.NewDirLoader(opts.DataDir)
			if opts.CatalogURL != "" {
				l, err := catalog.NewHTTPLoader(opts.CatalogURL, nil)
				if err != nil {
					fail("Error: %v", err)
				}
				loader = l
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			report, err := catalog.Check(ctx, loader)
			if err != nil {
				fail("Error loading catalog: %v", err)
			}
			out, err := yaml.Marshal(report)
			if err != nil {
				fail("Error marshaling report: %v", err)
			}
			fmt.Print(string(out))
			strict, _ := cmd.Flags().GetBool("strict")
			if strict && !report.Clean() {
				os.Exit(2)
			}
		}),
	}
	checkCmd.Flags().Bool("strict", false, "Exit with status 2 when defects are found")
	cli.Root().AddCommand(checkCmd)

	cli.Run()
}
