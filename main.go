package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/isolevel/admin"
	"github.com/maxpert/isolevel/cfg"
	"github.com/maxpert/isolevel/common"
	"github.com/maxpert/isolevel/db"
	"github.com/maxpert/isolevel/protocol"
	"github.com/maxpert/isolevel/protocol/handlers"
	"github.com/maxpert/isolevel/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	if err := protocol.InitializeIsolationCache(cfg.Config.Parser.CacheSize); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize isolation parse cache")
		return
	}

	server := protocol.NewServerIsolation(
		cfg.Config.Transaction.DefaultIsolation,
		cfg.Config.Transaction.ReadOnly,
	)

	if flag.NArg() > 0 {
		if err := runStatements(os.Stdout, server, flag.Args()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := serve(server); err != nil {
		log.Fatal().Err(err).Msg("Admin server failed")
	}
}

// cliRun holds one session while statements are applied
type cliRun struct {
	out     io.Writer
	session *protocol.IsolationSession
}

// runStatements applies each statement to one session and reports where isolation ends up
func runStatements(out io.Writer, server *protocol.ServerIsolation, statements []string) error {
	run := &cliRun{out: out, session: protocol.NewIsolationSession(1, server)}

	for _, sql := range statements {
		stmt := protocol.ParseStatement(sql)
		if err := run.apply(stmt); err != nil {
			return fmt.Errorf("%s: %w", sql, protocol.ConvertToMySQLError(err))
		}
		fmt.Fprintf(out, "%-14s effective=%s\n", stmt.Type, run.session.Effective())
	}

	level := run.session.Effective()
	if txn := run.session.CurrentTransaction(); txn != nil {
		fmt.Fprintf(out, "open transaction %d level=%s statements=%d\n",
			txn.ID, txn.Isolation, txn.StatementCount())
		level = txn.Isolation
	}

	if err := checkSQLite(out, level); err != nil {
		return err
	}
	if cfg.Config.MySQL.DSN != "" {
		return checkMySQL(out, cfg.Config.MySQL.DSN, level)
	}
	return nil
}

func (r *cliRun) apply(stmt protocol.Statement) error {
	if stmt.Type == common.StatementSelect && len(handlers.ExtractSystemVarNames(stmt.SQL)) > 0 {
		return r.printSystemVars(stmt.SQL)
	}
	return r.session.Exec(stmt)
}

func (r *cliRun) printSystemVars(query string) error {
	result, err := handlers.HandleSystemVariableQuery(query, handlers.SystemVarConfig{
		ConnID:  r.session.ConnID,
		Session: r.session,
	})
	if err != nil {
		return err
	}
	for i, col := range result.Columns {
		fmt.Fprintf(r.out, "%s = %v\n", col.Name, result.Rows[0][i])
	}
	return nil
}

// checkSQLite opens and rolls back a SQLite transaction at level
func checkSQLite(out io.Writer, level common.IsolationLevel) error {
	sqlDB, err := db.OpenSQLite(cfg.Config.SQLite.Path, cfg.Config.SQLite.BusyTimeoutMS)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx := context.Background()
	tx, err := db.BeginSQLite(ctx, sqlDB, level)
	if err != nil && protocol.IsRetryableError(protocol.ConvertToMySQLError(err)) {
		log.Warn().Err(err).Str("isolation", level.String()).Msg("SQLite busy, retrying once")
		tx, err = db.BeginSQLite(ctx, sqlDB, level)
	}
	if err != nil {
		return protocol.ConvertToMySQLError(err)
	}

	var readUncommitted int
	if err := tx.QueryRow(ctx, "PRAGMA read_uncommitted").Scan(&readUncommitted); err != nil {
		tx.Rollback(ctx)
		return err
	}
	fmt.Fprintf(out, "sqlite transaction level=%s read_uncommitted=%d\n", tx.Level(), readUncommitted)

	return tx.Rollback(ctx)
}

// checkMySQL opens and rolls back a MySQL transaction at level
func checkMySQL(out io.Writer, dsn string, level common.IsolationLevel) error {
	sqlDB, err := db.OpenMySQL(dsn, cfg.Config.Transaction.DefaultIsolation)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := db.BeginMySQL(ctx, sqlDB, level)
	if err != nil {
		return protocol.ConvertToMySQLError(err)
	}

	var sessionIsolation string
	if err := tx.QueryRow(ctx, "SELECT @@session.transaction_isolation").Scan(&sessionIsolation); err != nil {
		tx.Rollback(ctx)
		return err
	}
	fmt.Fprintf(out, "mysql transaction level=%s session_isolation=%s\n", tx.Level(), sessionIsolation)

	return tx.Rollback(ctx)
}

// serve runs the admin and metrics HTTP surface until SIGINT/SIGTERM
func serve(server *protocol.ServerIsolation) error {
	sessions := protocol.NewSessionRegistry()

	collector := telemetry.NewMetricsCollector(sessions, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
	}
	if cfg.Config.Admin.Enabled {
		admin.RegisterRoutes(mux, admin.NewAdminHandlers(server, sessions))
	}

	addr := net.JoinHostPort(cfg.Config.Admin.Address, strconv.Itoa(cfg.Config.Admin.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Info().
		Str("address", addr).
		Str("default_isolation", server.EffectiveLevel().String()).
		Msg("isolevel started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
