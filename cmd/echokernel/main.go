// Command echokernel is the bootstrap entrypoint: it constructs the
// storage facade, event dispatcher, stage registry, plugin registry and
// UI bridge, loads and registers plugins, wires the storage, dispatcher
// and plugin registry into a component.Bootstrap, runs it (which
// initializes plugins and lets them register stages), and hands control
// to the cobra command tree. No stage pipeline is executed at startup;
// stages run only through the run-stage command.
//
// Grounded on kiosk404/echoryn's cmd/*/main.go entrypoints (flag parsing
// delegated entirely to the internal app package, main itself is a thin
// shim) and seaweedfs-seaweed-up's cmd/root.go Execute() pattern.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blang/semver"
	"github.com/spf13/viper"

	"github.com/kiosk404/echoryn/internal/kernel/cli"
	"github.com/kiosk404/echoryn/internal/kernel/component"
	"github.com/kiosk404/echoryn/internal/kernel/event"
	"github.com/kiosk404/echoryn/internal/kernel/klog"
	"github.com/kiosk404/echoryn/internal/kernel/pluginapi"
	"github.com/kiosk404/echoryn/internal/kernel/pluginload"
	"github.com/kiosk404/echoryn/internal/kernel/pluginreg"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
	"github.com/kiosk404/echoryn/internal/kernel/storage"
	"github.com/kiosk404/echoryn/internal/kernel/uibridge"
)

// APIVersion is the kernel's own API surface version, checked against
// every plugin's compatible_api_versions ranges at registration time.
var APIVersion = semver.MustParse("0.1.0")

type storageComponent struct{ facade *storage.Facade }

func (c *storageComponent) Initialize(ctx context.Context) error { return nil }
func (c *storageComponent) Start(ctx context.Context) error      { return nil }
func (c *storageComponent) Stop(ctx context.Context) error       { return c.facade.Close() }

type dispatcherComponent struct{ d *event.Dispatcher }

func (c *dispatcherComponent) Initialize(ctx context.Context) error { return nil }
func (c *dispatcherComponent) Start(ctx context.Context) error      { return nil }
func (c *dispatcherComponent) Stop(ctx context.Context) error       { return nil }

// consoleAdapter is the default UI adapter: it writes every broadcast
// message to stdout. It never fails so it never shows up in a
// Broadcast/InitializeAll/FinalizeAll failure map.
type consoleAdapter struct{}

func (consoleAdapter) Name() string      { return "console" }
func (consoleAdapter) Initialize() error { return nil }
func (consoleAdapter) HandleMessage(msg uibridge.Message) error {
	fmt.Printf("[%s] %s\n", msg.Source, msg.Update.Text)
	return nil
}
func (consoleAdapter) SendInput(input string) error { return nil }
func (consoleAdapter) Update() error                { return nil }
func (consoleAdapter) Finalize() error               { return nil }
func (consoleAdapter) SupportsInteractive() bool     { return false }

type registryComponent struct {
	reg    *pluginreg.Registry
	stages *stage.Registry
	kctx   *pluginapi.KernelContext
}

func (c *registryComponent) Initialize(ctx context.Context) error { return nil }
func (c *registryComponent) Start(ctx context.Context) error {
	return c.reg.InitializeAll(ctx, c.kctx, c.stages)
}
func (c *registryComponent) Stop(ctx context.Context) error { return c.reg.ShutdownAll(ctx) }

func main() {
	log := klog.Module("main")

	viper.SetEnvPrefix("ECHOKERNEL")
	viper.AutomaticEnv()
	configDir := viper.GetString("config_dir")
	if configDir == "" {
		configDir, _ = os.UserConfigDir()
		if configDir == "" {
			configDir = "."
		}
	}

	facade, err := storage.Open(configDir)
	if err != nil {
		log.Errorf("failed to open storage facade: %v", err)
		os.Exit(1)
	}

	dispatcher := event.New()
	stages := stage.NewRegistry()
	registry := pluginreg.New(APIVersion, facade, dispatcher)
	bridge := uibridge.New()
	bridge.Register(consoleAdapter{})
	_ = bridge.SetDefault("console")
	if failures := bridge.InitializeAll(); len(failures) > 0 {
		log.Warnf("some UI adapters failed to initialize: %v", failures)
	}
	bridge.Broadcast(uibridge.Message{Source: "main", Update: uibridge.Update{Kind: uibridge.Status, Text: "kernel starting"}})

	kctx := &pluginapi.KernelContext{ConfigDir: configDir, APIVersion: APIVersion}

	loader := pluginload.New(pluginDirs(configDir)...)
	plugins, count, loadErr := loader.LoadAll()
	if loadErr != nil {
		log.Warnf("some plugins failed to load: %v", loadErr)
	}
	log.Infof("loaded %d plugin(s)", count)
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			log.Warnf("failed to register plugin %s: %v", p.Manifest().Name, err)
		}
	}

	if err := registry.CheckDependencies(); err != nil {
		log.Errorf("dependency check failed: %v", err)
		os.Exit(1)
	}

	boot := component.New()
	component.Register[*storageComponent](boot, &storageComponent{facade: facade})
	component.Register[*dispatcherComponent](boot, &dispatcherComponent{d: dispatcher})
	component.Register[*registryComponent](boot, &registryComponent{reg: registry, stages: stages, kctx: kctx})

	ctx := context.Background()
	if err := boot.Run(ctx); err != nil {
		log.Errorf("bootstrap failed: %v", err)
		os.Exit(1)
	}
	defer boot.Teardown(ctx)
	defer bridge.FinalizeAll()

	root := cli.NewRootCommand(&cli.Kernel{
		Plugins:   registry,
		Stages:    stages,
		ConfigDir: configDir,
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ec *cli.ExitCodeError
		if errors.As(err, &ec) {
			code = ec.Code
		}
		os.Exit(code)
	}
}

func pluginDirs(configDir string) []string {
	return []string{configDir + "/plugins", "./plugins"}
}
