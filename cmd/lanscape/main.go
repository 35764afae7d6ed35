/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/lanscape/pkg/config"
	"github.com/carverauto/lanscape/pkg/engine"
	"github.com/carverauto/lanscape/pkg/logger"
)

const (
	defaultConfigPath = "/etc/lanscape/lanscape.json"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to lanscape config file")
	flag.Parse()

	configSet := false

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSet = true
		}
	})

	ctx := context.Background()

	cfg := engine.NewDefaultConfig()

	// A missing file at the default location is fine; an explicitly
	// requested file must exist.
	path := *configPath
	if !configSet {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	if err := config.NewConfig(nil).LoadAndValidate(ctx, path, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	mainLogger, err := logger.New(ctx, logConfig, "lanscape")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	eng, err := engine.New(ctx, cfg, mainLogger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	mainLogger.Info().Str("config", path).Msg("lanscape running")

	<-runCtx.Done()
	stop()

	mainLogger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}

	return nil
}
