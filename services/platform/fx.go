package platform

import (
	"go.uber.org/fx"
)

var Module = fx.Module("platform.service",
	fx.Provide(
		NewFarcasterAdapter,
		NewLensAdapter,
		NewMindsAdapter,
		provideRegistry,
	),
)

func provideRegistry(farcaster *FarcasterAdapter, lens *LensAdapter, minds *MindsAdapter) *Registry {
	return NewRegistry(farcaster, lens, minds)
}
