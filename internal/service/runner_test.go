package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/gateway"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestRunner_TicksUntilStopped(t *testing.T) {
	h := newHarness(t, 2)
	c := h.scheduled(t, 5)
	runner := service.NewRunner(h.dispatcher, h.recovery, 10*time.Millisecond, zerolog.Nop())

	runner.Start(context.Background())
	assert.True(t, runner.IsRunning())

	require.Eventually(t, func() bool {
		return h.store.campaign(c.ID).Status == model.CampaignStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	runner.Stop()
	assert.False(t, runner.IsRunning())
	assert.Len(t, h.sender.delivered(), 5)
}

func TestRunner_StopsWithContext(t *testing.T) {
	h := newHarness(t, 2)
	runner := service.NewRunner(h.dispatcher, h.recovery, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool { return !runner.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestRunner_OverlappingTicksShareOneRun(t *testing.T) {
	h := newHarness(t, 10)
	h.scheduled(t, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.sender.onSend = func(gateway.Message) {
		close(entered)
		<-release
	}
	runner := service.NewRunner(h.dispatcher, h.recovery, time.Hour, zerolog.Nop())

	var (
		wg       sync.WaitGroup
		first    *service.TickSummary
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _, firstErr = runner.RunTick(context.Background())
	}()
	<-entered

	var (
		second      *service.TickSummary
		shared      bool
		secondErr   error
		secondReady = make(chan struct{})
	)
	go func() {
		second, shared, secondErr = runner.RunTick(context.Background())
		close(secondReady)
	}()

	// give the second caller time to join the in-flight tick
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	<-secondReady

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.True(t, shared)
	assert.Equal(t, first.TickID, second.TickID)
	assert.Len(t, h.sender.delivered(), 1)
}

func TestRunner_RunReconcile(t *testing.T) {
	h := newHarness(t, 10)
	c := h.processing(t, model.MessageStatusPending)
	runner := service.NewRunner(h.dispatcher, h.recovery, time.Hour, zerolog.Nop())

	summary, _, err := runner.RunReconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, summary.Reset)
}
