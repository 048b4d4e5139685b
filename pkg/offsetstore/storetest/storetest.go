// Package storetest holds the behavior every offsetstore.Store backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/rabbitqueue/pkg/offsetstore"
	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// Run exercises store/fetch/reset semantics and per-key isolation against s.
// Keys are prefixed with t.Name() so the suite can share a backend with other tests.
func Run(t *testing.T, s offsetstore.Store) {
	t.Helper()
	ctx := context.Background()
	prefix := t.Name()

	t.Run("FetchDefaultsToZero", func(t *testing.T) {
		got, err := s.Fetch(ctx, prefix+"-never-stored", "consumer")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if !got.Equal(offsetstore.DefaultOffset()) {
			t.Fatalf("expected default offset, got %v", got)
		}
	})

	t.Run("StoreAndFetch", func(t *testing.T) {
		name := prefix + "-stream"
		if err := s.Store(ctx, name, "consumer", queue.PositionOffset(1000)); err != nil {
			t.Fatalf("store: %v", err)
		}
		got, err := s.Fetch(ctx, name, "consumer")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if !got.Equal(queue.PositionOffset(1000)) {
			t.Fatalf("expected 1000, got %v", got)
		}

		if err := s.Store(ctx, name, "consumer", queue.TokenOffset("last")); err != nil {
			t.Fatalf("store token: %v", err)
		}
		got, err = s.Fetch(ctx, name, "consumer")
		if err != nil {
			t.Fatalf("fetch token: %v", err)
		}
		if !got.Equal(queue.TokenOffset("last")) {
			t.Fatalf("expected token last, got %v (%s)", got, got.Type())
		}
	})

	t.Run("ResetRestoresDefault", func(t *testing.T) {
		name := prefix + "-reset"
		if err := s.Store(ctx, name, "consumer", queue.PositionOffset(5)); err != nil {
			t.Fatalf("store: %v", err)
		}
		if err := s.Reset(ctx, name, "consumer"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		got, err := s.Fetch(ctx, name, "consumer")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if !got.Equal(offsetstore.DefaultOffset()) {
			t.Fatalf("expected default after reset, got %v", got)
		}
		if err := s.Reset(ctx, name, "consumer"); err != nil {
			t.Fatalf("reset of missing key must succeed: %v", err)
		}
	})

	t.Run("EmptyNameRejected", func(t *testing.T) {
		if err := s.Store(ctx, "", "consumer", queue.PositionOffset(1)); !errors.Is(err, offsetstore.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Isolation", func(t *testing.T) {
		parameters := gopter.DefaultTestParameters()
		parameters.MinSuccessfulTests = 25
		properties := gopter.NewProperties(parameters)

		counter := 0
		properties.Property("stores under one key never leak into another", prop.ForAll(
			func(position int64, tagA, tagB string) bool {
				counter++
				if tagA == tagB {
					tagB = tagB + "-other"
				}
				name := fmt.Sprintf("%s-iso-%d", prefix, counter)
				otherName := name + "-other"

				if err := s.Store(ctx, name, tagA, queue.PositionOffset(position)); err != nil {
					return false
				}
				sameName, err := s.Fetch(ctx, name, tagB)
				if err != nil || !sameName.Equal(offsetstore.DefaultOffset()) {
					return false
				}
				sameTag, err := s.Fetch(ctx, otherName, tagA)
				if err != nil || !sameTag.Equal(offsetstore.DefaultOffset()) {
					return false
				}

				if err := s.Store(ctx, name, tagB, queue.TokenOffset("first")); err != nil {
					return false
				}
				if err := s.Reset(ctx, name, tagB); err != nil {
					return false
				}
				kept, err := s.Fetch(ctx, name, tagA)
				return err == nil && kept.Equal(queue.PositionOffset(position))
			},
			gen.Int64Range(1, 1<<40),
			gen.Identifier(),
			gen.Identifier(),
		))

		properties.TestingRun(t)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := s.HealthCheck(ctx); err != nil {
			t.Fatalf("health check: %v", err)
		}
	})
}
