/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/jeffvincent/devspawn/internal/builder"
	"github.com/jeffvincent/devspawn/internal/config"
	"github.com/jeffvincent/devspawn/internal/coordinator"
	"github.com/jeffvincent/devspawn/internal/gateway"
	"github.com/jeffvincent/devspawn/internal/server"
	"github.com/jeffvincent/devspawn/internal/tracker"
)

var (
	listenAddr string
	devLogs    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the devspawn API server",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8000", "address to serve the API on")
	serveCmd.Flags().BoolVar(&devLogs, "dev-logs", false, "human-readable log output")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	log := zap.New(zap.UseDevMode(devLogs)).WithName("devspawn")
	cfg := config.Load()

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("load kubernetes config: %w", err)
	}
	k8s, err := client.New(restCfg, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return fmt.Errorf("create kubernetes client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	cfg.ResolveRegistries(ctx, k8s)
	cancel()
	log.Info("starting",
		"namespace", cfg.Namespace,
		"baseDomain", cfg.BaseDomain,
		"pullRegistry", cfg.PullRegistry,
		"pushRegistry", cfg.PushRegistry)

	gw := gateway.New(k8s, cfg.Namespace)
	trk := tracker.New(gw)
	bld := builder.New(afero.NewOsFs(), log.WithName("builder"), builder.Options{
		PullRegistry: cfg.PullRegistry,
		PushRegistry: cfg.PushRegistry,
		DockerHost:   cfg.DockerHost,
	})
	coord := coordinator.New(cfg, gw, trk, bld, afero.NewOsFs(), log.WithName("coordinator"))
	api := server.New(coord, log.WithName("http"))

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info("listening", "addr", listenAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
