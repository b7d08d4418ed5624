package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prediction-engine/internal/domain"
)

func TestDispatcher_EmitInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger)

	var order []string
	d.Register(SignalDetected, "first", func(ctx context.Context, evt Event) error {
		order = append(order, "first")
		return nil
	})
	d.Register(SignalDetected, "second", func(ctx context.Context, evt Event) error {
		order = append(order, "second")
		return nil
	})
	d.Register(SignalAbsent, "other", func(ctx context.Context, evt Event) error {
		order = append(order, "other")
		return nil
	})

	failed := d.Emit(context.Background(), SignalDetected, map[string]any{"gene": "DIS3"})
	assert.Zero(t, failed)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_FailingHandlerIsolated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(logger)

	called := 0
	d.Register(PredictionComplete, "erroring", func(ctx context.Context, evt Event) error {
		return errors.New("sink offline")
	})
	d.Register(PredictionComplete, "panicking", func(ctx context.Context, evt Event) error {
		panic("boom")
	})
	d.Register(PredictionComplete, "healthy", func(ctx context.Context, evt Event) error {
		called++
		return nil
	})

	var failed int
	require.NotPanics(t, func() {
		failed = d.Emit(context.Background(), PredictionComplete, nil)
	})
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, called)

	var errorEntries int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorEntries++
		}
	}
	assert.Equal(t, 2, errorEntries)
	assert.Equal(t, "panicking", hook.LastEntry().Data["handler"])
}

func TestDispatcher_Unregister(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger)

	calls := 0
	id := d.Register(ActionRequired, "counter", func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})
	assert.Equal(t, 1, d.HandlerCount(ActionRequired))

	assert.True(t, d.Unregister(id))
	assert.False(t, d.Unregister(id))
	assert.Zero(t, d.HandlerCount(ActionRequired))

	d.Emit(context.Background(), ActionRequired, nil)
	assert.Zero(t, calls)
}

func TestDispatcher_NoHandlers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger)
	assert.Zero(t, d.Emit(context.Background(), SignalAbsent, "anything"))
}

func TestDispatcher_TypedEmitters(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger)

	var mu sync.Mutex
	got := map[EventType]any{}
	for _, et := range AllEventTypes() {
		d.Register(et, "recorder", func(ctx context.Context, evt Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[evt.Type] = evt.Payload
			assert.False(t, evt.OccurredAt.IsZero())
			return nil
		})
	}

	ctx := context.Background()
	signal := &domain.SignalRecord{SignalType: domain.SignalMMHighRiskGene, Detected: true}
	d.EmitSignalDetected(ctx, SignalPayload{PredictionID: "p1", Signal: signal})
	d.EmitSignalAbsent(ctx, SignalPayload{PredictionID: "p1"})
	d.EmitActionRequired(ctx, ActionPayload{PredictionID: "p1", RiskLevel: domain.RiskHigh, Urgency: domain.UrgencyCritical})
	d.EmitPredictionComplete(ctx, CompletePayload{Prediction: &domain.Prediction{ID: "p1"}})

	require.Len(t, got, 4)
	assert.Equal(t, signal, got[SignalDetected].(SignalPayload).Signal)
	assert.Equal(t, domain.UrgencyCritical, got[ActionRequired].(ActionPayload).Urgency)
	assert.Equal(t, "p1", got[PredictionComplete].(CompletePayload).Prediction.ID)
}

func TestDispatcher_ConcurrentEmit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger)

	var mu sync.Mutex
	count := 0
	d.Register(SignalDetected, "counter", func(ctx context.Context, evt Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Emit(context.Background(), SignalDetected, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}
