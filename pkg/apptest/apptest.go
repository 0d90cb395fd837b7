// Package apptest plugs a lifecycle controller into Go tests.
package apptest

import (
	"context"
	"testing"
	"time"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/lifecycle"
)

// TeardownTimeout bounds the teardown registered with t.Cleanup.
var TeardownTimeout = 30 * time.Second

// Session is a launched controller bound to one test.
type Session struct {
	*lifecycle.Controller
	t testing.TB
}

// Start launches a controller and tears it down when the test ends. It
// fails the test immediately when the launch fails.
func Start(t testing.TB, opts lifecycle.Options) *Session {
	t.Helper()
	c, err := lifecycle.New(opts)
	if err != nil {
		t.Fatalf("apptest: %v", err)
	}
	if err := c.Launch(context.Background()); err != nil {
		t.Fatalf("apptest: launch: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), TeardownTimeout)
		defer cancel()
		if err := c.Teardown(ctx); err != nil {
			t.Errorf("apptest: teardown: %v", err)
		}
	})
	return &Session{Controller: c, t: t}
}

// Bridge returns the bridge of instance, failing the test when it does
// not exist. The single-instance run uses "".
func (s *Session) Bridge(instance string) *bridge.Bridge {
	s.t.Helper()
	b, err := s.Controller.Bridge(instance)
	if err != nil {
		s.t.Fatalf("apptest: %v", err)
	}
	return b
}

// Execute runs fn on the single instance and fails the test on error.
func (s *Session) Execute(fn string, args ...any) any {
	s.t.Helper()
	got, err := s.Bridge("").Execute(context.Background(), fn, args...)
	if err != nil {
		s.t.Fatalf("apptest: execute: %v", err)
	}
	return got
}
