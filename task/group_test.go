package task

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestGroupCancelsOnFirstError(t *testing.T) {
	var g = NewGroup(context.Background())

	g.Queue("waits", func() error {
		<-g.Context().Done()
		return nil
	})
	g.Queue("fails", func() error { return errors.New("whoops") })
	g.GoRun()

	require.EqualError(t, g.Wait(), "fails: whoops")
	require.Error(t, g.Context().Err())
}

func TestGroupExplicitCancel(t *testing.T) {
	var g = NewGroup(context.Background())
	g.Queue("waits", func() error {
		<-g.Context().Done()
		return nil
	})
	g.GoRun()
	g.Cancel()

	require.NoError(t, g.Wait())
}

func TestGroupMisusePanics(t *testing.T) {
	var g = NewGroup(context.Background())
	require.Panics(t, func() { _ = g.Wait() })

	g.GoRun()
	require.Panics(t, func() { g.GoRun() })
	require.Panics(t, func() { g.Queue("late", func() error { return nil }) })
	require.NoError(t, g.Wait())
}
