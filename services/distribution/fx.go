package distribution

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("distribution.service",
	fx.Provide(
		fx.Annotate(NewHTTPPaymentClient, fx.As(new(PaymentClient))),
		NewController,
	),
	fx.Invoke(registerTasks),
)

type taskParams struct {
	fx.In

	Mux        *asynq.ServeMux `optional:"true"`
	Controller *Controller
}

func registerTasks(p taskParams) {
	if p.Mux == nil {
		return
	}
	p.Mux.HandleFunc(TaskSyncCampaign, p.Controller.HandleSyncTask)
}
