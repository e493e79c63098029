package cli

import (
	"context"
	"errors"

	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/registry"
	"github.com/roach88/docsync/internal/store"
)

// session is one command's view of the database: the store plus a registry
// that owns the providers opened through it.
type session struct {
	opts     *RootOptions
	store    *store.Store
	registry *registry.Registry
}

func openSession(opts *RootOptions) (*session, error) {
	opts.Logger.Debug("opening database", "path", opts.Config.Database)
	st, err := store.Open(opts.Config.Database,
		append(opts.Config.StoreOptions(), store.WithLogger(opts.Logger))...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s := &session{opts: opts, store: st}
	s.registry = registry.New(st,
		registry.WithLogger(opts.Logger),
		registry.WithProviderOptions(s.providerOptions()...))
	return s, nil
}

// providerOptions are shared by every provider the command creates.
func (s *session) providerOptions() []provider.Option {
	return []provider.Option{
		provider.WithConfig(s.opts.Config.ProviderConfig()),
		provider.WithLogger(s.opts.Logger),
		provider.WithClock(s.opts.now),
	}
}

// Close releases every provider (compacting their logs) and closes the store.
func (s *session) Close(ctx context.Context) error {
	regErr := s.registry.Close(ctx)
	if err := s.store.Close(); err != nil {
		return errors.Join(regErr, err)
	}
	return regErr
}
