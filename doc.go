// Package ocap is an object-capability kernel. It hosts isolated vats in
// separate workers, mediates every reference they exchange through per-vat
// c-lists, routes messages and promise resolutions through a persistent run
// queue, and garbage collects kernel objects with two-tier reference counts.
//
// The root package exposes the Kernel façade:
//
//	k, _ := ocap.New(ctx, ocap.WithConfig(config))
//	k.Start(ctx)
//	defer k.Shutdown(ctx)
//	root, _ := k.LaunchVat(ctx, &vat.Config{SourceSpec: "counter.js"})
//	result, _ := k.QueueMessage(ctx, root, "increment", nil)
//
// Control-plane requests can also be served over any messaging.Stream with
// Kernel.Serve.
package ocap
