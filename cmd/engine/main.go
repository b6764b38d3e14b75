package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	otelapi "go.opentelemetry.io/otel"

	"github.com/bpmnworks/engine/internal/config"
	"github.com/bpmnworks/engine/internal/otel"
	"github.com/bpmnworks/engine/internal/profile"
	"github.com/bpmnworks/engine/internal/rest"
	"github.com/bpmnworks/engine/pkg/bpmn"
	"github.com/bpmnworks/engine/pkg/bpmn/exporter"
	"github.com/bpmnworks/engine/pkg/bpmn/handler"
	enginemetrics "github.com/bpmnworks/engine/pkg/otel"
	"github.com/bpmnworks/engine/pkg/script/js"
	"github.com/bpmnworks/engine/pkg/storage"
	"github.com/bpmnworks/engine/pkg/storage/inmemory"
	"github.com/bpmnworks/engine/pkg/storage/rqlite"
)

func main() {
	profile.InitProfile()
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "bpmn-engine",
		Level: hclog.Info,
	})

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		logger.Error("failed to set up otel", "error", err)
		os.Exit(1)
	}

	store, err := newStore(conf.Engine.PersistenceBackend, conf.Rqlite)
	if err != nil {
		logger.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}

	metrics, err := enginemetrics.NewMetrics(otelapi.Meter(conf.Name))
	if err != nil {
		logger.Error("failed to register engine metrics", "error", err)
		os.Exit(1)
	}

	scriptRuntime := js.NewJsRuntime(context.Background(), 8, 1)

	manager := bpmn.NewProcessManager(
		bpmn.WithStore(store),
		bpmn.WithLogger(logger.Named("bpmn")),
		bpmn.WithMetrics(metrics),
		bpmn.WithScriptRuntime(scriptRuntime),
		bpmn.WithExporter(&exporter.LogExporter{Logger: logger.Named("txlog")}),
	)

	if err := loadResources(manager, conf.Engine.ResourcesDir, conf.Engine.HandlerScriptDir, logger); err != nil {
		logger.Error("failed to load process resources", "error", err)
		os.Exit(1)
	}

	svr, err := rest.NewServer(manager, conf, logger)
	if err != nil {
		logger.Error("failed to build rest server", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("listening", "addr", conf.Server.Addr)
		if err := svr.ListenAndServe(); err != nil {
			logger.Error("rest server stopped", "error", err)
		}
	}()

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	logger.Info("received signal, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("failed to close process manager cleanly", "error", err)
	}
	openTelemetry.Stop(shutdownCtx)
}

// newStore picks the storage.Store backend named by conf.Engine's
// PersistenceBackend.
func newStore(backend string, rqliteConf config.Rqlite) (storage.Store, error) {
	switch backend {
	case "", config.BackendInMemory:
		return inmemory.New(), nil
	case config.BackendRqlite:
		return rqlite.New(rqliteConf.Addr)
	default:
		return nil, fmt.Errorf("unknown engine.persistenceBackend %q", backend)
	}
}

// loadResources walks resourcesDir for *.bpmn definitions and registers a
// same-named handler module from handlerScriptDir's *.js file, if present.
// A process with no handler script runs with an empty Module: token
// handlers pass data through unchanged, and only elements that genuinely
// need user code (timer timeouts, inline scripts) fail, lazily.
func loadResources(manager *bpmn.ProcessManager, resourcesDir, handlerScriptDir string, logger hclog.Logger) error {
	entries, err := os.ReadDir(resourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no resources directory found, starting with no process definitions", "dir", resourcesDir)
			return nil
		}
		return fmt.Errorf("read resources dir %s: %w", resourcesDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bpmn") {
			continue
		}
		path := filepath.Join(resourcesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bpmn resource %s: %w", path, err)
		}
		name := strings.TrimSuffix(entry.Name(), ".bpmn")
		if err := manager.AddBpmnXML(name, entry.Name(), data); err != nil {
			return fmt.Errorf("load bpmn resource %s: %w", path, err)
		}
		logger.Info("registered process definition", "name", name, "resource", entry.Name())

		scriptPath := filepath.Join(handlerScriptDir, name+".js")
		if _, err := os.Stat(scriptPath); err != nil {
			continue
		}
		module, err := handler.LoadFromFile(scriptPath)
		if err != nil {
			return fmt.Errorf("load handler script %s: %w", scriptPath, err)
		}
		manager.RegisterHandlers(name, module)
		logger.Info("registered handler module", "name", name, "script", scriptPath)
	}
	return nil
}
