package promoter

import (
	"go.uber.org/fx"
)

var Module = fx.Module("promoter.service",
	fx.Provide(
		NewService,
	),
)
