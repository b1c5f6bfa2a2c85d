// Package service defines the lifecycle contract every hosted service
// implements.
package service

import "context"

// Service is a unit with an explicit load/start/stop/unload lifecycle.
//
// The runtime drives transitions one step at a time and calls exactly one
// hook per step. A hook that returns an error leaves the service in its
// previous state. Hooks run while the runtime holds its global lock, so
// they should return quickly; long-running work belongs in goroutines
// started by Start and stopped by Stop.
type Service interface {
	Load(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Unload(ctx context.Context) error
}

// Funcs adapts plain functions to Service. Nil hooks succeed.
type Funcs struct {
	OnLoad   func(ctx context.Context) error
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
	OnUnload func(ctx context.Context) error
}

func (f *Funcs) Load(ctx context.Context) error   { return call(ctx, f.OnLoad) }
func (f *Funcs) Start(ctx context.Context) error  { return call(ctx, f.OnStart) }
func (f *Funcs) Stop(ctx context.Context) error   { return call(ctx, f.OnStop) }
func (f *Funcs) Unload(ctx context.Context) error { return call(ctx, f.OnUnload) }

func call(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
