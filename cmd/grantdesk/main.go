/*
Grantdesk runs the grant-writing services backend and its maintenance tasks.

Usage:

	grantdesk [command] [flags]

The commands are:

	serve
		Start the HTTP server and run until interrupted. The entity, auth,
		clients and analytics APIs are served under /api.
	migrate [DB...]
		Bring the schema of the configured SQLite DBs up to date. With no
		arguments every SQLite DB in config is migrated.
	routes
		Print every route the configured server would serve.

The flags are:

	-c, --config PATH
		Use the given file for the configuration instead of './grantdesk.yml'.
		The file must be in JSON or YAML format.
	--env-file PATH
		Load environment variables from the given file before reading config.
		May be given more than once. Defaults to './.env' if present.

Values in the config file may be overridden with GRANTDESK_* environment
variables, such as GRANTDESK_LISTEN and GRANTDESK_TOKEN_SECRET.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/analytics"
	"github.com/grantdesk/grantdesk/auth"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/grantdesk/grantdesk/entity/sqlite"
	"github.com/grantdesk/grantdesk/internal/config"
	"github.com/grantdesk/grantdesk/internal/logging"
	"github.com/grantdesk/grantdesk/migrate"
	"github.com/grantdesk/grantdesk/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitPanic   = 2
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	exitCode := exitSuccess
	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		exitCode = exitError
	}
}

type rootOptions struct {
	configFile string
	envFiles   []string
}

func (opts *rootOptions) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&opts.configFile, "config", "c", "grantdesk.yml", "Path to configuration file")
	fs.StringArrayVar(&opts.envFiles, "env-file", nil, "Load environment variables from `PATH` (repeatable)")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "grantdesk",
		Short:        "Grant-writing services backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}

	opts.bindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts), newRoutesCmd(opts))
	return root
}

// newEnvironment returns a server environment with every grantdesk component
// in use.
func newEnvironment() *server.Environment {
	env := &server.Environment{}
	env.UseComponent(entity.Component{})
	env.UseComponent(auth.Component{})
	env.UseComponent(auth.ClientsComponent{})
	env.UseComponent(analytics.Component{})
	return env
}

func loadConfig(env *server.Environment, file string) (grantdesk.Config, error) {
	cfg, err := env.LoadConfig(file)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", file, err)
	}
	return cfg, nil
}

// cliLogger returns the logger for messages from the command itself. It logs
// to stderr only; the server opens its own logger for any configured file.
func cliLogger(cfg grantdesk.Config) grantdesk.Logger {
	if !cfg.Log.Enabled || cfg.Log.Provider == grantdesk.NoLog {
		return logging.NoOpLogger{}
	}
	log, err := logging.New(cfg.Log.Provider, "")
	if err != nil {
		return logging.NoOpLogger{}
	}
	return log
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := newEnvironment()
			cfg, err := loadConfig(env, opts.configFile)
			if err != nil {
				return err
			}
			log := cliLogger(cfg)

			srv, err := env.NewServer(&cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, srv, log, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "How long to wait for requests to finish on shutdown")
	return cmd
}

// serve runs srv until ctx is done or the server fails, then shuts it down.
func serve(ctx context.Context, srv grantdesk.RESTServer, log grantdesk.Logger, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting server...")
		err := srv.ServeForever()
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Server shutdown by request")
			return nil
		}
		return fmt.Errorf("server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [DB...]",
		Short: "Bring SQLite schemas up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := newEnvironment()
			cfg, err := loadConfig(env, opts.configFile)
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), cmd.OutOrStdout(), cfg, args, cliLogger(cfg))
		},
	}
}

// runMigrations migrates the named SQLite DBs of cfg, or all of them if names
// is empty, and prints a summary of each to w.
func runMigrations(ctx context.Context, w io.Writer, cfg grantdesk.Config, names []string, log grantdesk.Logger) error {
	if len(names) < 1 {
		for name, db := range cfg.DBs {
			if db.Type == grantdesk.DatabaseSQLite {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}
	if len(names) < 1 {
		fmt.Fprintln(w, "No SQLite DBs are configured")
		return nil
	}

	var errs []error
	for _, name := range names {
		db, ok := cfg.DBs[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: no such DB in config", name))
			continue
		}
		if db.Type != grantdesk.DatabaseSQLite {
			errs = append(errs, fmt.Errorf("%s: not a SQLite DB (type %s)", name, db.Type))
			continue
		}

		store, err := sqlite.Open(db.DataDir, db.DataFile)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		report, err := migrate.Run(ctx, store.DB(), log)
		store.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		fmt.Fprintf(w, "%s: %d applied, %d already present, %d failed\n", name, len(report.Applied), len(report.Skipped), len(report.Failed))
		if err := report.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func newRoutesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the routes the server would serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := newEnvironment()
			cfg, err := loadConfig(env, opts.configFile)
			if err != nil {
				return err
			}

			srv, err := env.NewServer(&cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), srv.RoutesIndex())

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}
