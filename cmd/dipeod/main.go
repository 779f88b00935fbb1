// Command dipeod is the single long-running process that hosts the
// engine, its HTTP control API, and its WebSocket event stream (spec
// §6.4's "one binary hosts everything" process model), grounded on the
// teacher's cmd/orchestrator/main.go Echo bootstrap.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dipeo/dipeo-core/internal/config"
	"github.com/dipeo/dipeo-core/internal/runtime"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("dipeod")
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeod: load config: %v\n", err)
		os.Exit(1)
	}

	store := newDiagramStore()
	rt, err := runtime.New(ctx, cfg, runtime.Options{DiagramLoader: store.Load})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeod: build runtime: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	rt.Router.Start(routerCtx)
	rt.StartObservers()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)
	registerRoutes(e, newAPI(rt, store))

	startServer(e, rt, cfg.Service.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "dipeod",
		})
	})
}

// startServer runs e until SIGINT/SIGTERM, then drains in-flight
// requests for up to 10s before returning, matching the teacher's
// e.Start/os.Exit shape but adding the graceful-shutdown step the
// single-process dipeod binary needs so an aborted execution's final
// state write isn't cut off mid-flight.
func startServer(e *echo.Echo, rt *runtime.Runtime, port int) {
	go func() {
		addr := fmt.Sprintf(":%d", port)
		rt.Log.WithFields(map[string]any{"port": port}).Info("starting dipeod")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			rt.Log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		rt.Log.Error("graceful shutdown failed", "error", err)
	}
}
