package worker

import (
	"context"
	"log"
	"time"

	"github.com/versevid/versevid/internal/models"
	"github.com/versevid/versevid/internal/pipeline"
	"github.com/versevid/versevid/internal/queue"
)

// Worker pulls submitted jobs off the queue and drives each one through the
// pipeline. One goroutine per dequeue slot; each job runs to completion on
// the goroutine that claimed it.
type Worker struct {
	queue     *queue.Queue
	generator *pipeline.Generator
}

func New(q *queue.Queue, g *pipeline.Generator) *Worker {
	return &Worker{queue: q, generator: g}
}

// Start begins processing jobs and blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing job: %v", err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (source: %s)", job.JobID, job.Source)
			w.generator.Run(ctx, job.JobID, job.Source, w.withDefaults(job.Options))
		}
	}
}

// withDefaults fills the option gaps a caller left open.
func (w *Worker) withDefaults(opts models.RenderOptions) models.RenderOptions {
	if opts.TransitionType == "" {
		opts.TransitionType = models.TransitionFade
	}
	if opts.TransitionDuration <= 0 {
		opts.TransitionDuration = 1.0
	}
	if opts.Style == "" {
		opts.Style = "cinematic"
	}
	return opts
}
