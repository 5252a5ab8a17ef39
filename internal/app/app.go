package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/kamicore/internal/config"
	"github.com/kamicore/internal/logger"

	"go.uber.org/zap"
)

// 启动模式
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

// backgroundService 后台收敛循环：队列 worker 或纯扫描器
type backgroundService interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App 应用拓扑固定为两个槽位：HTTP 入口与后台收敛循环。
// 启动模式决定哪些槽位被占用，至少占用其一。
type App struct {
	httpServer *http.Server
	background backgroundService
}

// Run 应用启动入口
func Run(opts Options) error {
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}

	app, err := buildApp(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if len(opts.Signals) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, opts.Signals...)
		defer cancel()
	}
	return app.run(ctx, opts)
}

// run 启动占用的槽位，等待退出信号或任一槽位的首个错误，
// 然后在超时窗口内依次收拢 HTTP 与后台循环。
func (a *App) run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := opts.Logger
	errCh := make(chan error, 2)

	if a.httpServer != nil {
		log.Infow("http_listen", "addr", a.httpServer.Addr, "mode", opts.Mode)
		go func() {
			err := a.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errCh <- err
		}()
	}
	if a.background != nil {
		log.Infow("background_start", "service", a.background.Name())
		go func() {
			errCh <- a.background.Start(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer stopCancel()
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(stopCtx); err != nil {
			log.Errorw("http_shutdown_failed", "error", err)
		}
	}
	if a.background != nil {
		if err := a.background.Stop(stopCtx); err != nil {
			log.Errorw("background_stop_failed", "service", a.background.Name(), "error", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
