package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/gateway"
)

// defaultPollInterval is the blocking window handed to Gateway.Poll on each
// loop cycle. It bounds how long teardown waits for the loop to notice the
// gateway has closed.
const defaultPollInterval = time.Second

// Stage is one pipeline stage's behavior, independent of loop mechanics.
// Listeners declares which topics the stage consumes and how records are
// handled; Drain is called during teardown, before the gateway closes, so
// buffered work can still be published.
type Stage interface {
	Name() string
	Listeners() []gateway.Listener
	Drain()
}

// StageWorker adapts a Stage and its Gateway to the Worker contract. The
// loop alternates between polling one record and draining delivery reports
// until the gateway is closed.
type StageWorker struct {
	stage    Stage
	gw       *gateway.Gateway
	interval time.Duration
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStageWorker constructs a StageWorker. A non-positive interval falls
// back to the default one-second poll window.
func NewStageWorker(stage Stage, gw *gateway.Gateway, interval time.Duration, log *zap.Logger) *StageWorker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StageWorker{
		stage:    stage,
		gw:       gw,
		interval: interval,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Setup subscribes the gateway to the stage's topics.
func (w *StageWorker) Setup() error {
	return w.gw.SetConsumers(w.stage.Listeners())
}

// RunLoop polls until the gateway closes. Poll errors raised during
// teardown are part of normal shutdown; anything else aborts the loop.
func (w *StageWorker) RunLoop() error {
	w.log.Info("stage running", zap.String("stage", w.stage.Name()))
	for !w.gw.IsClosed() {
		if err := w.gw.Poll(w.ctx, w.interval); err != nil {
			if errors.Is(err, gateway.ErrClosed) || w.gw.IsClosed() {
				break
			}
			return err
		}
		w.gw.Emit()
	}
	w.log.Info("stage stopped", zap.String("stage", w.stage.Name()))
	return nil
}

// Teardown drains the stage while the producer half is still usable, then
// closes the gateway so the loop unblocks and exits.
func (w *StageWorker) Teardown() {
	w.log.Info("stage draining", zap.String("stage", w.stage.Name()))
	w.stage.Drain()
	w.gw.Close()
	w.cancel()
}
