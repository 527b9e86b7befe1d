package storage

import (
	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/fetcher"
	"github.com/ezalhq/radar/internal/registry"
	"github.com/ezalhq/radar/internal/scheduler"
)

// The query methods need a Firestore backend (or emulator) to exercise, so
// the durable contract checked here is that one Client satisfies every
// consumer interface. Breaking any store interface fails compilation.
var (
	_ registry.Store      = (*Client)(nil)
	_ fetcher.JobStore    = (*Client)(nil)
	_ fetcher.RunStore    = (*Client)(nil)
	_ scheduler.JobStore  = (*Client)(nil)
	_ differ.ProductStore = (*Client)(nil)
	_ differ.InsightStore = (*Client)(nil)
)
