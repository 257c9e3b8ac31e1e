package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
)

func TestQueueInMemoryRoundTrip(t *testing.T) {
	q := NewQueue(nil)
	ctx := context.Background()

	job := domain.Job{ID: "job-1", WorkflowID: "wf-1", TenantID: "tenant-a"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, ok := q.Dequeue(ctx, 10*time.Millisecond)
	if !ok {
		t.Fatal("expected a job to be dequeued")
	}
	if got.ID != job.ID {
		t.Fatalf("got job %q, want %q", got.ID, job.ID)
	}

	if _, ok := q.Dequeue(ctx, 10*time.Millisecond); ok {
		t.Fatal("expected queue to be empty after single dequeue")
	}
}

func TestQueueDelayedJobNotReadyImmediately(t *testing.T) {
	q := NewQueue(nil)
	ctx := context.Background()

	job := domain.Job{ID: "job-2", WorkflowID: "wf-1", TenantID: "tenant-a", NotBefore: time.Now().Add(50 * time.Millisecond)}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}

	if _, ok := q.Dequeue(ctx, 5*time.Millisecond); ok {
		t.Fatal("did not expect delayed job to be ready immediately")
	}

	time.Sleep(70 * time.Millisecond)

	if _, ok := q.Dequeue(ctx, 10*time.Millisecond); !ok {
		t.Fatal("expected delayed job to become ready after its not-before time")
	}
}
