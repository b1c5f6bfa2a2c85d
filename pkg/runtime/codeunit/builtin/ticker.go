package builtin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/service"
)

// TickerConfig configures a ticker service.
type TickerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Message  string        `mapstructure:"message"`
}

// Ticker logs a message on a fixed interval. It is mostly useful as a
// liveness probe for module deployment.
type Ticker struct {
	id    string
	cfg   TickerConfig
	ticks atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTicker(env codeunit.Env) (service.Service, error) {
	t := &Ticker{id: env.Module + "/" + env.Type}
	if err := decodeConfig(env, &t.cfg); err != nil {
		return nil, err
	}
	if t.cfg.Interval == 0 {
		t.cfg.Interval = 10 * time.Second
	}
	if t.cfg.Message == "" {
		t.cfg.Message = "tick"
	}
	return t, nil
}

func (t *Ticker) Load(context.Context) error {
	if t.cfg.Interval < 0 {
		return errors.New("ticker: interval must be positive")
	}
	return nil
}

func (t *Ticker) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tk := time.NewTicker(t.cfg.Interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				n := t.ticks.Add(1)
				logger.Info(t.cfg.Message, logger.KeyService, t.id, "count", n)
			}
		}
	}()
	return nil
}

func (t *Ticker) Stop(context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
	return nil
}

func (t *Ticker) Unload(context.Context) error { return nil }

// Ticks returns how many times the ticker fired.
func (t *Ticker) Ticks() int64 {
	return t.ticks.Load()
}
