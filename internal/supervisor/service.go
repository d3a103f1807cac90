// NZBIndexer - Usenet Binary Indexing and Deobfuscation Engine
// Copyright 2026 Sebastiaan Koetsier (jskoetsier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jskoetsier/nzbindexer

package supervisor

import (
	"context"
)

// StartStopper is the lifecycle shape of the scheduler and similar
// components: Start launches background work, Stop drains it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// Service adapts a StartStopper to suture's Serve contract: start, block
// until the supervisor cancels the context, stop, and report the context
// error so suture treats shutdown as intentional.
type Service struct {
	name string
	impl StartStopper
}

// NewService wraps a StartStopper as a suture service.
func NewService(name string, impl StartStopper) *Service {
	return &Service{name: name, impl: impl}
}

func (s *Service) String() string { return s.name }

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.impl.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.impl.Stop()
	return ctx.Err()
}
