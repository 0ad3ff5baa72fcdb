package util

import (
	"sync"

	"github.com/tidehq/tide/logger"
	"go.uber.org/zap"
)

type Task func()

// Pool is a fixed-size pool of workers draining a shared task channel. Pool
// size bounds total concurrency independent of how many producers submit.
type Pool struct {
	name  string
	size  int
	tasks chan Task
	stop  chan struct{}
	wg    *sync.WaitGroup
}

func NewPool(name string, size int, wg *sync.WaitGroup) *Pool {
	return &Pool{
		name:  name,
		size:  size,
		tasks: make(chan Task, size),
		stop:  make(chan struct{}),
		wg:    wg,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case task := <-p.tasks:
					task()
				case <-p.stop:
					return
				}
			}
		}()
	}
	logger.Info("worker pool started", zap.String("pool", p.name), zap.Int("size", p.size))
}

// Submit blocks until a worker accepts the task or the pool stops. Returns
// false if the pool is stopped.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	case <-p.stop:
		return false
	}
}

// TrySubmit hands the task over only if the pool has room right now.
func (p *Pool) TrySubmit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *Pool) Stop() {
	logger.Info("stopping worker pool", zap.String("pool", p.name))
	close(p.stop)
}
