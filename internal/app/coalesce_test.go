package service

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/ascent/internal/domain/eligibility"
	"github.com/okian/ascent/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// gatedRoles blocks ListRoles until released or until its ctx is done.
type gatedRoles struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRoles) ListRoles(ctx context.Context) ([]model.Role, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCoalescedResolutionSurvivesCallerCancel(t *testing.T) {
	Convey("Given two callers sharing one resolution for the same member", t, func() {
		roles := &gatedRoles{entered: make(chan struct{}, 1), release: make(chan struct{})}
		s := New()
		s.resolver = eligibility.NewResolver(roles, eligibility.NewEvaluator(nil))
		r := &coalescingResolver{s: s}
		member := &model.Member{GuildID: "g", DiscordID: "alice"}

		firstCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		firstErr := make(chan error, 1)
		go func() {
			_, _, err := r.ResolveHighest(firstCtx, member)
			firstErr <- err
		}()
		<-roles.entered

		secondErr := make(chan error, 1)
		go func() {
			_, _, err := r.ResolveHighest(context.Background(), member)
			secondErr <- err
		}()

		Convey("When the first caller cancels before the resolution finishes", func() {
			cancel()
			err1 := <-firstErr
			close(roles.release)
			err2 := <-secondErr

			Convey("Then only the first caller sees the cancellation", func() {
				So(errors.Is(err1, context.Canceled), ShouldBeTrue)
				So(err2, ShouldBeNil)
			})
		})
	})
}
