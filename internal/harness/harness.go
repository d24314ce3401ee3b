package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/log"
	"github.com/roach88/pwasync/internal/netstate"
	"github.com/roach88/pwasync/internal/store"
	"github.com/roach88/pwasync/internal/testutil"
)

// DeviceID is the device id every scenario engine runs as.
const DeviceID = "harness"

// Harness holds the components of one scenario run.
type Harness struct {
	store     *store.Store
	manager   *netstate.Manager
	engine    *engine.Engine
	transport *testutil.StubTransport
	log       *log.Logger

	mu     sync.Mutex
	result *Result
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes engine logs to l. The default discards them.
func WithLogger(l *log.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// Run executes a scenario in a fresh in-memory database and returns the
// result with its trace. A non-nil error means the scenario could not run;
// failed expectations and assertions are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{result: NewResult()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = log.OrNop(h.log)

	st, err := store.Open(":memory:",
		store.WithClock(testutil.NewSteppingClock(time.Second).Now),
		store.WithIDGenerator(action.NewSequenceGenerator("a")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	h.manager = netstate.NewManager(
		netstate.WithStore(netstate.NewSoftStore(st, h.log, netstate.WithNotFound(func(err error) bool {
			return errors.Is(err, store.ErrNotFound)
		}))),
		netstate.WithClock(testutil.NewSteppingClock(time.Second).Now),
		netstate.WithLogger(h.log),
	)

	h.transport = testutil.NewStubTransport(scriptFor(scenario.Transport))
	h.engine = engine.New(st, h.manager, &recordingTransport{next: h.transport, h: h},
		engine.WithLogger(h.log),
		engine.WithAutoSync(false),
		engine.WithDeviceID(DeviceID),
	)
	if err := h.engine.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(shutdownCtx)
	}()

	unsubscribe := h.manager.Subscribe(func(c netstate.Change) {
		changed := make([]string, len(c.Changed))
		for i, f := range c.Changed {
			changed[i] = string(f)
		}
		h.record(func(r *Result) {
			r.AddNetworkTrace(map[string]any{"changed": changed}, networkMap(c.Current))
		})
	})
	defer unsubscribe()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for _, msg := range EvaluateAssertions(ctx, h.result, scenario.Assertions, h.engine) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) record(fn func(*Result)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.result)
}

// executeSetup enqueues the setup actions. Setup is not traced.
func (h *Harness) executeSetup(ctx context.Context, setup []EnqueueStep) error {
	for i, step := range setup {
		payload, err := encodePayload(step.Payload)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if _, err := h.engine.Enqueue(ctx, step.Topic, payload); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
	}
	return nil
}

// executeFlow runs every flow step and checks its expect clause.
// Step failures are part of the step result, not run errors.
func (h *Harness) executeFlow(ctx context.Context, flow []Step) error {
	for i, step := range flow {
		op := step.Op()
		args, err := stepArgs(step)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		h.record(func(r *Result) { r.AddInvocationTrace(op, args) })
		result, stepErr := h.execute(ctx, step)
		if stepErr != nil {
			result = map[string]any{"error": errorCode(stepErr)}
		}
		h.record(func(r *Result) { r.AddCompletionTrace(op, result) })

		if stepErr != nil {
			if _, expected := step.Expect["error"]; !expected {
				h.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, op, stepErr))
				continue
			}
		}
		if !matchSubset(result, step.Expect) {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s", i, op, describe(step.Expect), describe(result)))
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Op() {
	case OpEnqueue:
		payload, err := encodePayload(step.Enqueue.Payload)
		if err != nil {
			return nil, err
		}
		id, err := h.engine.Enqueue(ctx, step.Enqueue.Topic, payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil

	case OpNetwork:
		p := netstate.Partial{
			ForcedOffline: step.Network.ForcedOffline,
			AutoOffline:   step.Network.AutoOffline,
			SlowNetwork:   step.Network.SlowNetwork,
		}
		change, err := h.engine.SetNetwork(ctx, p)
		if err != nil {
			return nil, err
		}
		return networkMap(change.Current), nil

	case OpConnectivity:
		_, changed := h.engine.ReportConnectivity(ctx, *step.Connectivity)
		return map[string]any{"changed": changed, "online": h.engine.State().IsOnline()}, nil

	case OpSync:
		var (
			report engine.SyncReport
			err    error
		)
		switch step.Sync.Mode {
		case SyncResync:
			report, err = h.engine.ResyncAll(ctx)
		case SyncSelected:
			report, err = h.engine.SyncSelected(ctx, step.Sync.IDs)
		default:
			report, err = h.engine.SyncNow(ctx)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"succeeded": report.Succeeded,
			"retried":   report.Retried,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		}, nil

	case OpDelete:
		n, err := h.engine.DeleteSelected(ctx, step.Delete)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil
	}
	return nil, fmt.Errorf("unknown step")
}

func stepArgs(step Step) (map[string]any, error) {
	switch step.Op() {
	case OpEnqueue:
		return map[string]any{"topic": step.Enqueue.Topic, "payload": step.Enqueue.Payload}, nil
	case OpNetwork:
		args := map[string]any{}
		for name, v := range map[string]*bool{
			"forced_offline": step.Network.ForcedOffline,
			"auto_offline":   step.Network.AutoOffline,
			"slow_network":   step.Network.SlowNetwork,
		} {
			if v != nil {
				args[name] = *v
			}
		}
		return args, nil
	case OpConnectivity:
		return map[string]any{"online": *step.Connectivity}, nil
	case OpSync:
		mode := step.Sync.Mode
		if mode == "" {
			mode = SyncNow
		}
		args := map[string]any{"mode": mode}
		if len(step.Sync.IDs) > 0 {
			args["ids"] = step.Sync.IDs
		}
		return args, nil
	case OpDelete:
		return map[string]any{"ids": step.Delete}, nil
	}
	return nil, fmt.Errorf("step must name exactly one operation")
}

func encodePayload(v any) (action.Payload, error) {
	if v == nil {
		v = map[string]any{}
	}
	return action.NewPayload(v)
}

// errorCode reports an engine error by its code and anything else verbatim.
func errorCode(err error) string {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return string(engErr.Code)
	}
	return err.Error()
}

func networkMap(s netstate.State) map[string]any {
	return map[string]any{
		"browser_online":    s.BrowserOnline,
		"forced_offline":    s.ForcedOffline,
		"auto_offline":      s.AutoOffline,
		"slow_network":      s.SlowNetwork,
		"online":            s.IsOnline(),
		"offline_virtually": s.IsOfflineVirtually(),
	}
}

func describe(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

// recordingTransport traces every dispatch before handing back the answer.
type recordingTransport struct {
	next engine.Transport
	h    *Harness
}

func (t *recordingTransport) Send(ctx context.Context, item action.Item) (action.Result, error) {
	res, err := t.next.Send(ctx, item)

	result := map[string]any{}
	if err != nil {
		result["outcome"] = OutcomeNetwork
		result["message"] = err.Error()
	} else {
		result["outcome"] = res.Classify().String()
		if res.ErrorID != "" {
			result["error_id"] = res.ErrorID
		}
		if res.ErrorMessage != "" {
			result["message"] = res.ErrorMessage
		}
	}
	args := map[string]any{"topic": item.Topic, "tries": item.Tries}
	t.h.record(func(r *Result) { r.AddDispatchTrace(item.ID, args, result) })
	return res, err
}

// scriptFor turns transport rules into a stub script. Rules are consulted in
// order; unclaimed dispatches are accepted.
func scriptFor(rules []TransportRule) testutil.ScriptFunc {
	var mu sync.Mutex
	used := make([]int, len(rules))

	return func(_ int, item action.Item) (action.Result, error) {
		mu.Lock()
		defer mu.Unlock()

		for i, rule := range rules {
			if rule.Match != "" && !strings.Contains(string(item.Payload), rule.Match) {
				continue
			}
			if rule.Times > 0 && used[i] >= rule.Times {
				continue
			}
			used[i]++

			switch rule.Outcome {
			case OutcomeRetryable:
				return action.Result{Retryable: true, ErrorID: rule.ErrorID, ErrorMessage: rule.Message}, nil
			case OutcomeFatal:
				return action.Result{ErrorID: rule.ErrorID, ErrorMessage: rule.Message}, nil
			case OutcomeNetwork:
				msg := rule.Message
				if msg == "" {
					msg = "connection refused"
				}
				return action.Result{}, errors.New(msg)
			default:
				return action.Result{OK: true}, nil
			}
		}
		return action.Result{OK: true}, nil
	}
}
