package app

import (
	"errors"
	"net/http"

	"github.com/kamicore/internal/config"
	"github.com/kamicore/internal/provider"
	"github.com/kamicore/internal/router"
	"github.com/kamicore/internal/worker"
)

// buildApp 按启动模式装配槽位
func buildApp(cfg *config.Config, mode string) (*App, error) {
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return nil, errors.New("unknown mode: " + mode)
	}

	container := provider.NewContainer(cfg)
	app := &App{}

	if mode == ModeAll || mode == ModeAPI {
		app.httpServer = &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router.SetupRouter(cfg, container),
		}
	}

	// 后台槽位；队列未启用时退化为纯扫描服务，超时取消仍有兜底
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			svc, err := worker.NewService(cfg, consumer)
			if err != nil {
				return nil, err
			}
			app.background = svc
		} else {
			svc, err := worker.NewSweepService(cfg, consumer)
			if err != nil {
				return nil, err
			}
			app.background = svc
		}
	}

	return app, nil
}
