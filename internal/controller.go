package internal

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/tftp/internal/core"
	"github.com/dcrodman/tftp/internal/core/data"
	"github.com/dcrodman/tftp/internal/core/debug"
	"github.com/dcrodman/tftp/internal/core/metrics"
	"github.com/dcrodman/tftp/internal/server"
)

// Controller is the main entrypoint for the file server. It's responsible for
// initializing any shared resources (such as database and logging), defining
// the servers, and launching everything.
type Controller struct {
	Config *core.Config
	// Optional; a logger is built from Config when nil.
	Logger *logrus.Logger

	db      *gorm.DB
	metrics *metrics.Metrics
	wg      sync.WaitGroup
	servers []*frontend

	ready chan struct{}
}

// Start brings up every server and blocks until ctx is cancelled and all of
// the connections have closed.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	if c.Logger == nil {
		// Set up the logger, which will be used by all servers.
		logger, err := core.NewLogger(c.Config)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		c.Logger = logger
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(c.Logger, c.Config.Debugging.PprofPort)
	}

	if c.Config.Metrics.Enabled {
		c.metrics = metrics.NewMetrics()
		metrics.Serve(ctx, c.Logger, c.Config.Metrics.HTTPPort)
	}

	db, err := data.Initialize(
		c.Config.Database.Engine,
		c.Config.DatabaseSource(),
		c.Config.Debugging.DatabaseLoggingEnabled,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.db = db

	// Configure and run all of our servers.
	c.declareServers()
	return c.run(ctx)
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() {
	c.servers = []*frontend{
		{
			Address: c.Config.ListenAddress(),
			Backend: &server.Server{
				Name:    "TFTP",
				Config:  c.Config,
				Logger:  c.Logger,
				Metrics: c.metrics,
				DB:      c.db,
			},
		},
	}
}

func (c *Controller) run(ctx context.Context) error {
	// Start all of our servers. Failure to initialize one of the registered servers is considered terminal.
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.Logger

		if err := server.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
	}
	if c.ready != nil {
		close(c.ready)
	}

	c.wg.Wait()
	return nil
}

// Addrs returns the listening addresses of the running servers.
func (c *Controller) Addrs() []net.Addr {
	var addrs []net.Addr
	for _, server := range c.servers {
		if server.listener != nil {
			addrs = append(addrs, server.Addr())
		}
	}
	return addrs
}

func (c *Controller) Shutdown() {
	c.wg.Wait()
	if err := data.Shutdown(c.db); err != nil {
		c.Logger.Warnf("error closing database: %v", err)
	}
}
