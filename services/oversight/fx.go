package oversight

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("oversight.service",
	fx.Provide(
		NewService,
	),
	fx.Invoke(registerTasks),
)

type taskParams struct {
	fx.In

	Mux     *asynq.ServeMux `optional:"true"`
	Service *Service
}

func registerTasks(p taskParams) {
	if p.Mux == nil {
		return
	}
	p.Mux.HandleFunc(TaskScanSamples, p.Service.HandleScanTask)
}
