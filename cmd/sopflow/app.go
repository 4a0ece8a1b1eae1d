package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/floridafirst/sopflow/internal/actions"
	"github.com/floridafirst/sopflow/internal/definitions"
	"github.com/floridafirst/sopflow/internal/engine"
	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/integrations"
	"github.com/floridafirst/sopflow/internal/notify"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/internal/roles"
	"github.com/floridafirst/sopflow/internal/scheduler"
	"github.com/floridafirst/sopflow/internal/store"
	"github.com/floridafirst/sopflow/internal/streaming"
	"github.com/floridafirst/sopflow/internal/validation"
	sopmcp "github.com/floridafirst/sopflow/pkg/mcp"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// app is the wired process: orchestrator, tool server and scheduler over one store.
type app struct {
	registry  *registry.Registry
	store     store.Store
	hub       *streaming.MemoryHub
	orch      engine.Orchestrator
	server    *sopmcp.SOPServer
	relay     *sopmcp.SessionNotifier
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	closers []func() error
}

// newRegistry builds a definition registry holding the standard SOPs plus any
// definitions found in dir.
func newRegistry(dir string) (*registry.Registry, *expressions.CELEngine, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, nil, fmt.Errorf("cel engine: %w", err)
	}
	v, err := validation.NewWorkflowValidator(expressions.NewExprEngine(), cel)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow validator: %w", err)
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, nil, fmt.Errorf("json schema validator: %w", err)
	}

	defs, err := definitions.Standard(jsv)
	if err != nil {
		return nil, nil, fmt.Errorf("standard definitions: %w", err)
	}
	if dir != "" {
		extra, err := definitions.LoadDir(dir, jsv)
		if err != nil {
			return nil, nil, fmt.Errorf("definitions in %s: %w", dir, err)
		}
		defs = append(defs, extra...)
	}

	reg := registry.New(v)
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return nil, nil, err
		}
	}
	return reg, cel, nil
}

func openStore(ctx context.Context, cfg Config) (store.Store, func() error, error) {
	if cfg.UsesMemoryStore() {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}

	path := strings.TrimPrefix(cfg.DBPath, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create database dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, s.Close, nil
}

func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	reg, cel, err := newRegistry(cfg.DefinitionsDir)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{registry: reg, store: st, logger: logger, closers: []func() error{closeStore}}

	integ := integrations.NewRegistry(logger)
	if err := integrations.RegisterWebhooks(integ, integrations.KindExternal, cfg.Webhooks.External); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := integrations.RegisterWebhooks(integ, integrations.KindInternal, cfg.Webhooks.Internal); err != nil {
		_ = a.Close()
		return nil, err
	}

	resolver := roles.NewStaticResolver(cfg.Roles, cfg.DefaultAssignee)
	acts := actions.NewRegistry()
	if err := actions.RegisterBuiltins(acts, actions.BuiltinDeps{Roles: resolver, Integrations: integ, Logger: logger}); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.EventBuffer > 0 {
		a.hub = streaming.NewMemoryHubSize(cfg.EventBuffer)
	} else {
		a.hub = streaming.NewMemoryHub()
	}

	sessions := sopmcp.NewSessionRegistry()
	a.relay = sopmcp.NewSessionNotifier(sessions)

	a.orch, err = engine.NewOrchestrator(engine.Deps{
		Store:        st,
		Registry:     reg,
		Actions:      acts,
		Integrations: integ,
		Roles:        resolver,
		Notifier: notify.Fanout{
			Primary: notify.NewLogNotifier(logger),
			Side:    []notify.Notifier{notify.NewHubNotifier(a.hub)},
			Logger:  logger,
		},
		Hub:        a.hub,
		Conditions: expressions.NewExprEngine(),
		Triggers:   cel,
		Extractor:  expressions.NewGoJQEngine(),
		Logger:     logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.server = sopmcp.NewSOPServer(sopmcp.SOPServerDeps{
		Orchestrator: a.orch,
		Registry:     reg,
		Sessions:     sessions,
		Logger:       logger,
	})
	a.relay.Attach(a.server.MCPServer())

	a.scheduler = scheduler.NewScheduler(a.orch, scheduler.Config{
		AutomationInterval: cfg.AutomationInterval,
		OverdueInterval:    cfg.OverdueInterval,
	}, logger)

	logger.Info("sopflow wired",
		"definitions", reg.Count(),
		"memory_store", cfg.UsesMemoryStore(),
		"external_webhooks", len(cfg.Webhooks.External),
		"internal_webhooks", len(cfg.Webhooks.Internal),
	)
	return a, nil
}

// startRelay forwards hub notifications to MCP sessions until stop is called.
func (a *app) startRelay(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.relay.Relay(ctx, a.hub, a.logger); err != nil {
			a.logger.Error("session relay stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close releases the store. Safe to call more than once.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// definitionIDs lists registered definition ids in registration order.
func definitionIDs(reg *registry.Registry) []string {
	defs := reg.List()
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

func stepTypes(def *schema.WorkflowDefinition) string {
	counts := make(map[schema.StepType]int)
	for _, s := range def.Steps {
		counts[s.Type]++
	}
	parts := make([]string, 0, len(counts))
	for _, t := range schema.StepTypes {
		if n := counts[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, t))
		}
	}
	return strings.Join(parts, ", ")
}
