package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/ca"
	"github.com/tlsgate/tlsgate/internal/configsup"
	"github.com/tlsgate/tlsgate/internal/dispatch"
	"github.com/tlsgate/tlsgate/internal/proxycfg"
	"github.com/tlsgate/tlsgate/internal/sandbox"
	"github.com/tlsgate/tlsgate/internal/tglog"
)

// runAll loads configPath and runs every configured listener until
// SIGINT/SIGTERM, at which point every listener is asked to stop. One
// listener failing to bind aborts startup; once running, a connection
// failure never brings another listener down (see internal/dispatch).
func runAll(ctx context.Context, configPath string) error {
	log := tglog.Named("cmd")

	doc, err := proxycfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("run: load config: %w", err)
	}
	if len(doc.Proxy) == 0 {
		return fmt.Errorf("run: %s defines no [[proxy]] blocks", configPath)
	}

	caDir := doc.CAPath
	if caDir == "" {
		caDir = dataDir()
	}
	authority, err := ca.NewAuthority(caDir)
	if err != nil {
		return fmt.Errorf("run: CA authority: %w", err)
	}

	rt, err := sandbox.NewRuntime(ctx, cacheDir())
	if err != nil {
		return fmt.Errorf("run: sandbox runtime: %w", err)
	}
	defer rt.Close(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	for _, desc := range doc.Proxy {
		snapshot, stopWatch, err := configsup.Watch(ctx, desc.HookConfigPath)
		if err != nil {
			return fmt.Errorf("run: watch hook config for %s: %w", desc.DisplayName(), err)
		}
		defer stopWatch()

		listener := dispatch.New(desc, authority, rt, snapshot)

		wg.Add(1)
		go func(desc proxycfg.ProxyDescriptor) {
			defer wg.Done()
			if err := listener.Serve(ctx); err != nil {
				log.Error("listener stopped", zap.String("proxy", desc.DisplayName()), zap.Error(err))
				errOnce.Do(func() {
					runErr = fmt.Errorf("run: listener %s: %w", desc.DisplayName(), err)
					cancel()
				})
			}
		}(desc)
	}

	log.Info("tlsgate running", zap.Int("listeners", len(doc.Proxy)))
	wg.Wait()
	return runErr
}
