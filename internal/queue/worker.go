package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/domain"
)

// Generator runs a completion for a queued job. *router.Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
}

// Worker drains the request queue and publishes results to the response
// queue. Failed generations are reported as responses too so the
// submitter is not left polling forever.
type Worker struct {
	queue      Queue
	gen        Generator
	batchSize  int
	jobTimeout time.Duration
}

func NewWorker(queue Queue, gen Generator) *Worker {
	return &Worker{
		queue:      queue,
		gen:        gen,
		batchSize:  10,
		jobTimeout: 5 * time.Minute,
	}
}

// Run polls until ctx is cancelled. Receive errors back off briefly
// instead of hot-looping against a broken queue.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		requests, err := w.queue.ReceiveRequests(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("receive queued requests failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if len(requests) == 0 {
			// SQS long-polls; in-memory queues return immediately.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		for _, req := range requests {
			w.process(ctx, req)
		}
	}
}

func (w *Worker) process(ctx context.Context, req AsyncRequest) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	resp := AsyncResponse{
		RequestID: req.ID,
		CreatedAt: time.Now().UTC(),
	}

	result, err := w.gen.Generate(jobCtx, req.Request)
	if err != nil {
		resp.Error = err.Error()
		slog.Warn("queued generation failed", "request_id", req.ID, "error", err)
	} else {
		resp.Result = result
	}

	if err := w.queue.SendResponse(ctx, resp); err != nil {
		slog.Error("send queued response failed", "request_id", req.ID, "error", err)
		return
	}

	if req.ReceiptHandle != "" {
		if err := w.queue.DeleteRequest(ctx, req.ReceiptHandle); err != nil {
			slog.Warn("delete queued request failed", "request_id", req.ID, "error", err)
		}
	}
}
