package maintenance

import (
	"context"

	server "github.com/louisbranch/motorpool/internal/services/fleet/app"
)

// storeOpener opens the storage bundle a maintenance run works on. The caller
// closes the bundle.
type storeOpener func(ctx context.Context, cfg server.StorageConfig) (*server.Stores, error)

var openStores storeOpener = server.OpenStores
