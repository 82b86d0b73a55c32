package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-locate/internal/cache"
	"go-locate/internal/config"
	"go-locate/internal/db"
	"go-locate/internal/inventory"
	"go-locate/internal/logger"
	"go-locate/internal/models"
	"go-locate/internal/neighbor"
	"go-locate/internal/poller"
	"go-locate/internal/resolver"
	"go-locate/internal/topology"
	"go-locate/internal/web"

	"github.com/gofiber/fiber/v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logr := logger.New(cfg.LogLevel)
	slog.SetDefault(logr)

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer store.Close()

	dialer := poller.SNMPDialer{
		Community: cfg.SNMP.Community,
		Port:      cfg.SNMP.Port,
		Retries:   cfg.SNMP.Retries,
	}
	builder := &topology.Builder{
		Dialer: dialer,
		Store:  store,
		Tables: topology.Tables{
			Forwarding:         cfg.SNMP.ForwardingOID,
			Neighbor:           cfg.SNMP.NeighborOID,
			NeighborIndexWidth: cfg.SNMP.NeighborIndexWidth,
			NeighborIfIndex:    cfg.SNMP.NeighborIfIndex,
		},
		SessionTimeout: cfg.SNMP.SessionTimeout,
		Log:            logr.With("component", "topology"),
	}
	probe := cache.ProberFunc(func(ctx context.Context, dev models.Device) poller.Status {
		return poller.Probe(ctx, dialer, dev.IPAddress, cfg.SNMP.ProbeTimeout)
	})
	manager := cache.NewManager(store, builder, probe, cache.Options{
		IgnoreTTL:     cfg.Cache.IgnoreTTL,
		ForwardingTTL: cfg.Cache.ForwardingTTL,
		CoreAddress:   cfg.Cache.CoreAddress,
		Workers:       cfg.Cache.Workers,
	}, logr.With("component", "cache"))

	inv := &inventory.Service{
		Dialer:         dialer,
		Store:          store,
		Prober:         probe,
		SessionTimeout: cfg.SNMP.SessionTimeout,
		Workers:        cfg.Cache.Workers,
		Log:            logr.With("component", "inventory"),
	}

	res := &resolver.Resolver{
		Prober:    neighbor.Pinger{Timeout: cfg.Lookup.PingTimeout, Privileged: cfg.Lookup.PingPrivileged},
		Neighbors: neighbor.NewTable(),
		Cache:     manager,
		Finder:    store,
		Timeout:   cfg.Lookup.RequestTimeout,
		Log:       logr.With("component", "resolver"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional background refresh so lookups rarely pay for a rebuild.
	if cfg.Cache.RefreshInterval > 0 {
		go manager.Run(ctx, cfg.Cache.RefreshInterval)
	}

	app := fiber.New(fiber.Config{
		Views:                 web.Engine(),
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})
	web.SetupRoutes(app, &web.Handler{
		Locator:   res,
		Cache:     manager,
		Directory: store,
		Inventory: inv,
		Log:       logr.With("component", "web"),
	})

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	addr := net.JoinHostPort(cfg.Web.Host, cfg.Web.Port)
	logr.Info("server running", "url", "http://"+addr)
	if err := app.Listen(addr); err != nil {
		logr.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
