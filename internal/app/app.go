// Package app wires configuration, stores, transport and the node into a
// running peerkeeper daemon.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/blobstore"
	"github.com/dmitrijs2005/peerkeeper/internal/config"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/node"
	"github.com/dmitrijs2005/peerkeeper/internal/storage"
	"github.com/dmitrijs2005/peerkeeper/internal/transport"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	accounts *accounts.Service
	dialer   *transport.Dialer
	node     *node.Node
	server   *transport.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	db, err := storage.OpenAccounts(ctx, c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("account store init error: %w", err)
	}

	blobs, err := newBlobStore(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	svc := accounts.NewService(db, logger)
	dialer := transport.NewDialer()

	n := node.New(node.Config{
		DataDir:      c.DataDir,
		Advertise:    c.Advertise(),
		SendTimeout:  c.SendTimeout,
		PingInterval: c.PingInterval,
		FanOutLimit:  c.FanOutLimit,
		Accounts:     svc,
		Blobs:        blobs,
		Messengers:   node.DialerMessengers(dialer, c.TokenTTL),
		Logger:       logger,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		accounts: svc,
		dialer:   dialer,
		node:     n,
		server:   transport.NewServer(c.ListenAddr, n, logger),
	}, nil
}

func newBlobStore(ctx context.Context, c *config.Config, logger logging.Logger) (blobstore.Store, error) {
	if c.BlobBackend != config.BlobS3 {
		return blobstore.NewFS(filepath.Clean(c.DataDir), logger), nil
	}
	client, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3(client, c.S3Bucket, logger), nil
}

// Node exposes the running node, for example to unlock identities.
func (app *App) Node() *node.Node {
	return app.node
}

func (app *App) Accounts() *accounts.Service {
	return app.accounts
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves peers and pings them until a termination signal arrives or ctx
// is cancelled. Stores are closed on return.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting node...", "listen", app.config.ListenAddr, "advertise", app.config.Advertise())

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "transport stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = app.node.Run(ctx)
	}()

	wg.Wait()

	app.node.Close(context.Background())
	if err := app.dialer.Close(); err != nil {
		app.logger.Warn(context.Background(), "closing connections", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.Background(), "closing account store", "error", err)
	}
	app.logger.Info(context.Background(), "node stopped")
}
