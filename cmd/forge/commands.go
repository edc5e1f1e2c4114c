package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/forgelab/forge/internal/allocator"
	"github.com/forgelab/forge/internal/config"
	"github.com/forgelab/forge/internal/history/factory"
	"github.com/forgelab/forge/internal/logger"
	"github.com/forgelab/forge/internal/metrics"
	"github.com/forgelab/forge/internal/registry"
	"github.com/forgelab/forge/internal/server"
	"github.com/forgelab/forge/internal/supervisor"
)

type command struct {
	global *GlobalFlags
}

// setup loads the config, installs logging, and builds a supervisor over the
// shared registry file. Every subcommand goes through here so concurrent
// invocations contend on the same lock.
func (c *command) setup() (*supervisor.Supervisor, config.Config, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	logger.Setup(cfg.Log)

	if dir := filepath.Dir(cfg.RegistryPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, config.Config{}, fmt.Errorf("create registry dir %s: %w", dir, err)
		}
	}
	store := registry.NewFileStore(cfg.RegistryPath)
	if cfg.LockPath != "" {
		store.LockPath = cfg.LockPath
	}

	sup := supervisor.New(store, cfg.Allocator(), cfg.Supervisor())

	sinks, err := factory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("history sinks: %w", err)
	}
	sup.SetHistorySinks(sinks...)
	return sup, cfg, nil
}

func (c *command) Ensure(f EnsureFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	rec, err := sup.Ensure(context.Background(), f.Name, f.Dir, f.Command, f.Backend, f.Frontend)
	if err != nil {
		if errors.Is(err, allocator.ErrPortExhaustion) {
			return fmt.Errorf("no free ports left; release unused slots with 'forge release': %w", err)
		}
		return err
	}
	printJSON(rec)
	return nil
}

func (c *command) Open(f SlotFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	res, err := sup.Open(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(res)
	fmt.Println(sup.LastAction())
	return nil
}

func (c *command) Stop(f SlotFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	if err := sup.Stop(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Println(sup.LastAction())
	return nil
}

func (c *command) Restart(f SlotFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	res, err := sup.Restart(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(res)
	fmt.Println(sup.LastAction())
	return nil
}

func (c *command) Status(f SlotFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	if f.Name == "" {
		list, err := sup.List(context.Background())
		if err != nil {
			return err
		}
		printJSON(list)
		return nil
	}
	st, err := sup.Status(context.Background(), f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c *command) Release(f SlotFlags) error {
	sup, _, err := c.setup()
	if err != nil {
		return err
	}
	if err := sup.Release(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Println(sup.LastAction())
	return nil
}

func (c *command) Serve(f ServeFlags) error {
	sup, cfg, err := c.setup()
	if err != nil {
		return err
	}
	if err := metrics.RegisterDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}

	listen := cfg.Server.Listen
	if f.Listen != "" {
		listen = f.Listen
	}
	basePath := cfg.Server.BasePath
	if f.BasePath != "" {
		basePath = f.BasePath
	}

	srv, err := server.NewServer(listen, basePath, sup)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	fmt.Printf("Starting forge server on %s%s\n", listen, basePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return srv.Close()
}
