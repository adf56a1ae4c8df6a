package pionsfu

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/media"
)

var ErrWorkerClosed = errors.New("media worker closed")

// Worker is a media "process": a goroutine serving the commands of the routers it hosts, one at a time.
// A panic in a command kills it and is reported on Died.
type Worker struct {
	id     int
	conf   core.MediaConfig
	logger core.Logger

	cmds     chan func()
	died     chan error
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ media.Worker = (*Worker)(nil) // interface compliance check

// NewWorkerFactory returns the media.WorkerFactory of pion based workers.
func NewWorkerFactory(conf *core.Config, logger core.Logger) media.WorkerFactory {
	return func(_ context.Context, id int) (media.Worker, error) {
		if conf.Media.RTCMinPort > 0 && conf.Media.RTCMaxPort < conf.Media.RTCMinPort {
			return nil, errors.Errorf("invalid RTC port range: %d-%d", conf.Media.RTCMinPort, conf.Media.RTCMaxPort)
		}
		return startWorker(id, conf.Media, logger), nil
	}
}

func startWorker(id int, conf core.MediaConfig, logger core.Logger) *Worker {
	w := &Worker{
		id:     id,
		conf:   conf,
		logger: logger,
		cmds:   make(chan func()),
		died:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("media worker %d panicked: %v", w.id, r)
			w.logger.Error(err.Error(), err)
			w.died <- err
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case cmd := <-w.cmds:
			cmd()
		}
	}
}

// do runs fn on the worker goroutine and waits for it.
func (w *Worker) do(ctx context.Context, fn func()) error {
	var completed bool
	result := make(chan struct{})
	cmd := func() {
		defer close(result)
		fn()
		completed = true
	}

	select {
	case w.cmds <- cmd:
	case <-w.done:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-result:
		if !completed {
			return ErrWorkerClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, opts media.RouterOptions) (media.Router, error) {
	var (
		r   *router
		err error
	)
	if doErr := w.do(ctx, func() { r, err = newRouter(w, opts) }); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "creating router on worker %d", w.id)
	}
	return r, nil
}

func (w *Worker) Died() <-chan error { return w.died }

// Close stops the worker; Died is then closed without a value.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		close(w.died)
	})
	return nil
}
