package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gcbaptista/go-track-reconciler/api"
	"github.com/gcbaptista/go-track-reconciler/internal/engine"
	"github.com/gcbaptista/go-track-reconciler/model"
	"github.com/gcbaptista/go-track-reconciler/services"
)

// withEngine opens the engine, runs fn and closes the engine, which flushes
// the memory snapshot.
func withEngine(flags *globalFlags, fn func(ctx context.Context, eng *engine.Engine) error) error {
	settings, err := flags.loadSettings()
	if err != nil {
		return err
	}
	eng, err := engine.Open(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, eng)
	if closeErr := eng.Close(); closeErr != nil {
		log.Printf("Warning: failed to close engine: %v", closeErr)
		if runErr == nil {
			runErr = closeErr
		}
	}
	return runErr
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				settings := eng.Settings()
				if port == "" {
					port = settings.Server.Port
				}

				router := gin.New()
				router.Use(gin.Logger(), gin.Recovery())
				router.Use(api.RequestIDMiddleware())
				router.Use(api.CORSMiddleware())
				router.Use(api.RequestSizeLimitMiddleware(settings.Server.MaxRequestBytes))
				api.SetupRoutes(router, eng)

				srv := &http.Server{
					Addr:              ":" + port,
					Handler:           router,
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					log.Printf("Starting server on port %s...", port)
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return fmt.Errorf("server failed: %w", err)
				case <-ctx.Done():
					log.Printf("Info: Shutting down server")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on, overrides the config file")
	return cmd
}

func newImportCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import library files or references from a JSON file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "library <file.json>",
		Short: "Import library files (one object or an array)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readOneOrMany[model.LibraryFile](args[0])
			if err != nil {
				return err
			}
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				stored, err := eng.AddLibraryFiles(ctx, files)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"imported": len(stored)})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "references <file.json>",
		Short: "Import references (one object or an array)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := readOneOrMany[model.Reference](args[0])
			if err != nil {
				return err
			}
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				stored, err := eng.AddReferences(ctx, refs)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"imported": len(stored)})
			})
		},
	})
	return cmd
}

func readOneOrMany[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied import file
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)

	var items []T
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return items, nil
	}
	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return []T{single}, nil
}

func newReindexCommand(flags *globalFlags) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the word index of both entity classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				reports, err := eng.ReindexAll(ctx, resume)
				if err != nil {
					return err
				}
				return printJSON(cmd, reports)
			})
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip entities that already have postings")
	return cmd
}

func newMatchCommand(flags *globalFlags) *cobra.Command {
	var (
		threshold float64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run the matching pipeline over unmatched references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				report, err := eng.RunMatchingPipeline(ctx, threshold, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Fuzzy threshold in (0,1], 0 uses the configured value")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum references per stage, 0 for no limit")
	return cmd
}

func newStatsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show match statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				stats, err := eng.GetMatchStatistics(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func newSearchCommand(flags *globalFlags) *cobra.Command {
	var (
		scope string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search library files and references by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := services.ParseScope(scope)
			if err != nil {
				return err
			}
			return withEngine(flags, func(ctx context.Context, eng *engine.Engine) error {
				result, err := eng.Search(ctx, strings.Join(args, " "), services.SearchOptions{Limit: limit, Scope: parsed})
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(services.ScopeAll), "library, references or all")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of hits, 0 uses the configured default")
	return cmd
}
