package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/heartbeat"
	"github.com/nextlevelbuilder/assistantd/internal/session"
	"github.com/nextlevelbuilder/assistantd/internal/transport"
)

const clearCommand = "/clear"

// TurnRunner is the subset of internal/agent.Runner the queue drives.
type TurnRunner interface {
	RunAgentTurn(ctx context.Context, key domain.SessionKey, userMessage string) (domain.TurnResult, error)
	StreamAgentTurn(ctx context.Context, key domain.SessionKey, userMessage string, sink func(domain.StreamEvent)) (domain.TurnResult, error)
	ClearSdkSession(key domain.SessionKey)
}

// Config controls queue capacity and processing-update cadence.
type Config struct {
	MaxQueueSize              int
	ProcessingUpdateIntervalMs int
	HeartbeatDeliverTo        string // "last" or a registered transport name
}

// Queue is the bounded single-consumer dispatch core: enqueuers call
// Enqueue (non-blocking, thread-safe); a single goroutine started by Run
// drains it strictly sequentially.
type Queue struct {
	cfg    Config
	ch     chan domain.AdapterMessage
	runner TurnRunner
	router *Router

	mu                sync.Mutex
	running           bool
	stop              chan struct{}
	stopOnce          sync.Once
	lastAdapterName   string
	lastSourceByAdapter map[string]string
}

func NewQueue(cfg Config, runner TurnRunner, router *Router) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	return &Queue{
		cfg:                 cfg,
		ch:                  make(chan domain.AdapterMessage, cfg.MaxQueueSize),
		runner:              runner,
		router:              router,
		stop:                make(chan struct{}),
		lastSourceByAdapter: make(map[string]string),
	}
}

// EnqueueResult is the synchronous outcome of Enqueue.
type EnqueueResult struct {
	Accepted bool
	Reason   string
}

// Enqueue places a message on the queue without blocking, returning
// {accepted:false,reason:"Queue full"} at capacity.
func (q *Queue) Enqueue(msg domain.AdapterMessage) EnqueueResult {
	select {
	case q.ch <- msg:
		return EnqueueResult{Accepted: true}
	default:
		return EnqueueResult{Accepted: false, Reason: "Queue full"}
	}
}

// Run starts the single-consumer processing loop. It blocks until ctx is
// cancelled or Stop is called.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()

	for {
		if !q.isRunning() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case msg := <-q.ch:
			select {
			case <-q.stop:
				return
			default:
			}
			q.processNext(ctx, msg)
		}
	}
}

// Stop flips the running flag and wakes the loop; any in-flight turn
// finishes non-preemptibly, then the loop returns without taking another
// message.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *Queue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) processNext(ctx context.Context, msg domain.AdapterMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: panic while processing message", "recover", r)
			q.routeReply(msg, "Something went wrong while processing that message.")
		}
	}()

	if msg.Source != domain.SourceHeartbeat {
		q.mu.Lock()
		q.lastAdapterName = msg.Source
		q.lastSourceByAdapter[msg.Source] = msg.SourceID
		q.mu.Unlock()
	}

	threadID, _ := msg.Metadata["threadId"].(string)
	key := session.ResolveSessionKey(msg.Source, msg.SourceID, threadID)

	if strings.TrimSpace(msg.Text) == clearCommand {
		q.runner.ClearSdkSession(key)
		q.routeReply(msg, "Conversation cleared. Starting fresh.")
		return
	}

	targetSource, targetSourceID, ok := q.resolveRouteTarget(msg)
	if !ok {
		slog.Warn("dispatch: dropping heartbeat message, no route target resolved")
		return
	}

	result, err := q.runTurn(ctx, targetSource, targetSourceID, key, msg.Text)
	if err != nil {
		slog.Error("dispatch: turn failed", "error", err)
		q.route(targetSource, targetSourceID, "Something went wrong while processing that message.")
		return
	}

	reply := result.Response
	if msg.Source == domain.SourceHeartbeat && heartbeat.IsHeartbeatOk(reply) {
		return // suppress heartbeat no-op replies
	}
	if reply == "" {
		reply = "I didn't generate a response — could you rephrase that?"
	}
	if result.Partial {
		reply += "\n\n[Note: this response may be incomplete due to a connection issue.]"
	}
	q.route(targetSource, targetSourceID, reply)
}

// resolveRouteTarget picks the (transport name, destination id) pair a
// reply is sent to. Ordinary messages route back to their own source;
// heartbeat messages route per HeartbeatDeliverTo.
func (q *Queue) resolveRouteTarget(msg domain.AdapterMessage) (string, string, bool) {
	if msg.Source != domain.SourceHeartbeat {
		return msg.Source, msg.SourceID, true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	adapter := q.cfg.HeartbeatDeliverTo
	if adapter == "last" || adapter == "" {
		adapter = q.lastAdapterName
	}
	if adapter == "" {
		return "", "", false
	}
	destID, ok := q.lastSourceByAdapter[adapter]
	if !ok {
		return "", "", false
	}
	return adapter, destID, true
}

func (q *Queue) runTurn(ctx context.Context, targetTransport, targetSourceID string, key domain.SessionKey, text string) (domain.TurnResult, error) {
	if t, ok := q.router.Get(targetTransport); ok {
		if pt, streaming := transport.SupportsStreaming(t); streaming {
			acc := NewProcessingAccumulator(
				time.Duration(q.processingIntervalMs())*time.Millisecond,
				func(text string) (string, error) { return pt.CreateProcessingMessage(targetSourceID, text) },
				func(id, text string) error { return pt.UpdateProcessingMessage(targetSourceID, id, text) },
			)
			return q.runner.StreamAgentTurn(ctx, key, text, acc.Consume)
		}
	}
	return q.runner.RunAgentTurn(ctx, key, text)
}

func (q *Queue) processingIntervalMs() int {
	if q.cfg.ProcessingUpdateIntervalMs <= 0 {
		return 2000
	}
	return q.cfg.ProcessingUpdateIntervalMs
}

func (q *Queue) route(source, sourceID, text string) {
	q.router.Route(source, sourceID, text)
}

func (q *Queue) routeReply(msg domain.AdapterMessage, text string) {
	q.route(msg.Source, msg.SourceID, text)
}
