package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/llm"
)

func TestExecuteBusyWhileCycleRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx := newFixture(t, &fakeCompleter{fn: func(ctx context.Context, cfg llm.Config, req llm.Request) (llm.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return llm.Response{Text: `{"decisions":[]}`}, nil
	}})

	done := make(chan CycleResult, 1)
	go func() {
		res, _ := fx.scheduler.Execute(context.Background(), fx.modelID, PassBuy)
		done <- res
	}()

	<-started
	_, err := fx.scheduler.Execute(context.Background(), fx.modelID, PassBuy)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}

	status := fx.scheduler.Status(fx.modelID)
	if !status.Running {
		t.Error("status should report running")
	}

	close(release)
	res := <-done
	if res.State != StateDone {
		t.Errorf("first cycle state = %s", res.State)
	}

	// Slot is free again.
	if _, err := fx.scheduler.Execute(context.Background(), fx.modelID, PassBuy); err != nil {
		t.Errorf("execute after release: %v", err)
	}
}

func TestStatusReflectsLastError(t *testing.T) {
	fx := newFixture(t, &fakeCompleter{fn: func(ctx context.Context, cfg llm.Config, req llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("provider down")
	}})

	if _, err := fx.scheduler.Execute(context.Background(), fx.modelID, PassBuy); err != nil {
		t.Fatal(err)
	}

	status := fx.scheduler.Status(fx.modelID)
	if status.Running {
		t.Error("not running after cycle end")
	}
	if status.State != StateFailed || status.LastError == "" {
		t.Errorf("status = %+v", status)
	}
	if status.LastRunAt.IsZero() {
		t.Error("last run time not recorded")
	}
}

func TestStatusUnknownModelIdle(t *testing.T) {
	fx := newFixture(t, respondWith("{}"))
	status := fx.scheduler.Status("never-ran")
	if status.Running || status.State != StateIdle {
		t.Errorf("status = %+v", status)
	}
}

func TestDisabledModelRejected(t *testing.T) {
	fx := newFixture(t, respondWith(`{"decisions":[]}`))
	fx.store.models[fx.modelID].Enabled = false

	res, err := fx.scheduler.Execute(context.Background(), fx.modelID, PassBoth)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateFailed {
		t.Errorf("state = %s", res.State)
	}
}

func TestDueModelsRunIndependently(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx := newFixture(t, &fakeCompleter{fn: func(ctx context.Context, cfg llm.Config, req llm.Request) (llm.Response, error) {
		if cfg.Model == "slow" {
			once.Do(func() { close(started) })
			<-release
		}
		return llm.Response{Text: `{"decisions":[]}`}, nil
	}})
	fx.store.models["m2"] = &database.Model{
		ID: "m2", Name: "Slowpoke", ProviderID: "p1", ModelName: "slow",
		InitialCapital: 10_000, AutoBuyEnabled: true, AutoSellEnabled: true, Enabled: true,
	}
	fx.engine.Register("m2", 10_000)

	fx.scheduler.runDue()
	<-started

	// The fast model's cycle finishes while the slow one is still mid-call.
	deadline := time.Now().Add(2 * time.Second)
	for fx.scheduler.Status(fx.modelID).State != StateDone {
		if time.Now().After(deadline) {
			t.Fatal("fast model never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st := fx.scheduler.Status("m2"); !st.Running {
		t.Error("slow model should still be running")
	}

	// Neither model is due again within the trading interval.
	last := fx.scheduler.Status(fx.modelID).LastRunAt
	fx.scheduler.runDue()
	time.Sleep(50 * time.Millisecond)
	if got := fx.scheduler.Status(fx.modelID).LastRunAt; !got.Equal(last) {
		t.Error("fast model re-ran before its interval elapsed")
	}

	close(release)
	fx.scheduler.Stop()
	if st := fx.scheduler.Status("m2"); st.Running {
		t.Error("slow cycle still running after Stop")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	fx := newFixture(t, respondWith(`{"decisions":[]}`))
	fx.scheduler.Start()

	stopped := make(chan struct{})
	go func() {
		fx.scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
