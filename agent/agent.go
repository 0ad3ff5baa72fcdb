package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidehq/tide/config"
	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/logger"
	"github.com/tidehq/tide/persistence"
	badgerstore "github.com/tidehq/tide/persistence/badger"
	"github.com/tidehq/tide/persistence/inmem"
	redisstore "github.com/tidehq/tide/persistence/redis"
	"github.com/tidehq/tide/registry"
	"github.com/tidehq/tide/rest"
	"github.com/tidehq/tide/scheduler"
	"github.com/tidehq/tide/util"
	"github.com/tidehq/tide/webhook"
	"go.uber.org/zap"
)

// Agent wires the storage backend, scheduler, webhook ingestor and http
// server together and owns their lifecycle.
type Agent struct {
	Config   config.Config
	registry *registry.Registry

	storage    persistence.Storage
	runner     *flow.Runner
	scheduler  *scheduler.Scheduler
	ingestor   *webhook.Ingestor
	httpServer *rest.Server
	janitor    *util.TickWorker

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config, reg *registry.Registry) (*Agent, error) {
	a := &Agent{
		Config:   conf,
		registry: reg,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupRunner,
		a.setupScheduler,
		a.setupIngestor,
		a.setupHttpServer,
		a.setupJanitor,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.storage = redisstore.NewRedisStorage(redisstore.Config{
			Addrs:          a.Config.RedisConfig.Addrs,
			Namespace:      a.Config.RedisConfig.Namespace,
			DedupWindow:    a.Config.DedupWindow,
			DeliveryWindow: a.Config.DeliveryWindow,
			RunRetention:   a.Config.RunRetention,
		})
	case config.STORAGE_TYPE_BADGER:
		storage, err := badgerstore.NewBadgerStorage(badgerstore.Config{
			Path:           a.Config.BadgerConfig.Path,
			DedupWindow:    a.Config.DedupWindow,
			DeliveryWindow: a.Config.DeliveryWindow,
		})
		if err != nil {
			return err
		}
		a.storage = storage
	case config.STORAGE_TYPE_INMEM:
		a.storage = inmem.NewInMemStorage(inmem.Config{
			DedupWindow:    a.Config.DedupWindow,
			DeliveryWindow: a.Config.DeliveryWindow,
		})
	default:
		return fmt.Errorf("unknown storage type %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupRunner() error {
	a.runner = flow.NewRunner(a.storage, flow.NewTracker(a.storage))
	return nil
}

func (a *Agent) setupScheduler() error {
	a.scheduler = scheduler.New(scheduler.Config{
		PoolSize:     a.Config.WorkerPoolSize,
		TickInterval: a.Config.TickInterval,
		BaseBackoff:  a.Config.BaseBackoff,
		MaxBackoff:   a.Config.MaxBackoff,
	}, a.runner)
	for _, wf := range a.registry.Workflows() {
		if err := a.scheduler.Register(wf); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) setupIngestor() error {
	for _, sourceConf := range a.Config.WebhookSources {
		if err := a.registry.RegisterSource(webhook.NewHmacSource(sourceConf)); err != nil {
			return err
		}
	}
	a.ingestor = webhook.NewIngestor(a.storage, a.scheduler, a.registry.Sources())
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.ingestor, a.storage)
	return err
}

func (a *Agent) setupJanitor() error {
	if a.Config.RunRetention <= 0 || a.Config.PruneInterval <= 0 {
		return nil
	}
	a.janitor = util.NewTickWorker("retention-janitor", a.Config.PruneInterval, func() {
		if err := a.storage.PruneRuns(context.Background(), a.Config.RunRetention); err != nil {
			logger.Error("error pruning run history", zap.Error(err))
		}
	}, &a.wg)
	return nil
}

func (a *Agent) Start() error {
	a.registry.Freeze()
	a.scheduler.Start()
	if a.janitor != nil {
		a.janitor.Start()
	}
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down agent")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			return a.scheduler.Stop(a.Config.ShutdownGrace)
		},
		func() error {
			if a.janitor != nil {
				a.janitor.Stop()
			}
			return nil
		},
		a.storage.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
