// Command flowenginedemo is a thin, transport-free entrypoint: it loads a
// workflow document from disk, runs it to completion through package
// engine, and prints the execution result (status, output and per-step
// outputs) as JSON; the event trace is not printed. It exists to exercise
// the engine end to end from a shell, not as a service façade — no HTTP,
// no WebSocket, no CLI subcommand tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/flowengine/builtins"
	"github.com/lyzr/flowengine/condition"
	"github.com/lyzr/flowengine/config"
	"github.com/lyzr/flowengine/docfmt"
	"github.com/lyzr/flowengine/engine"
	"github.com/lyzr/flowengine/logging"
	"github.com/lyzr/flowengine/manifest"
	"github.com/lyzr/flowengine/metrics"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: flowenginedemo <workflow.yaml> [params.json]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("flowenginedemo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Error("failed to read workflow file", "error", err)
		os.Exit(1)
	}
	wf, err := docfmt.Parse(data)
	if err != nil {
		log.Error("failed to parse workflow", "error", err)
		os.Exit(1)
	}

	inputs := map[string]interface{}{}
	if len(os.Args) > 2 {
		raw, err := os.ReadFile(os.Args[2])
		if err != nil {
			log.Error("failed to read params file", "error", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(raw, &inputs); err != nil {
			log.Error("failed to parse params file", "error", err)
			os.Exit(1)
		}
	}

	reg := registry.New(0)
	eval := condition.NewEvaluator()
	if err := builtins.Register(reg, eval, nil, nil); err != nil {
		log.Error("failed to register builtins", "error", err)
		os.Exit(1)
	}

	var loader *manifest.Loader
	if cfg.Plugin.ManifestDir != "" {
		if _, statErr := os.Stat(cfg.Plugin.ManifestDir); statErr == nil {
			loader = manifest.NewLoader(cfg.Plugin.ManifestDir, reg, log)
			if err := loader.LoadAll(ctx); err != nil {
				log.Warn("failed to load plugin manifests", "error", err)
			}
			if cfg.Plugin.HotReloadWatch {
				go func() {
					if err := loader.Watch(ctx); err != nil {
						log.Warn("manifest watcher stopped", "error", err)
					}
				}()
			}
		}
	}

	st := buildStore(ctx, cfg, log)
	defer closeStore(st)

	collector := metrics.New("flowenginedemo")
	eng := engine.New(reg, st, loader, log, engine.WithMetrics(collector))

	if err := eng.Validate(wf); err != nil {
		log.Error("workflow failed validation", "error", err)
		os.Exit(1)
	}

	result, err := eng.Execute(ctx, wf, inputs, engine.ExecuteOptions{})
	if err != nil {
		log.Error("execution failed to start", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status != "completed" {
		os.Exit(1)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, log logging.Logger) store.Store {
	switch cfg.Store.Backend {
	case "postgres":
		st, err := store.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			log.Error("failed to connect to postgres store", "error", err)
			os.Exit(1)
		}
		return st
	case "file":
		st, err := store.NewFileStore(cfg.Store.TraceDir)
		if err != nil {
			log.Error("failed to open file store", "error", err)
			os.Exit(1)
		}
		return st
	default:
		return store.NewMemoryStore()
	}
}

func closeStore(st store.Store) {
	type closer interface{ Close() }
	if c, ok := st.(closer); ok {
		c.Close()
	}
}
