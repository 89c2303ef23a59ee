package service

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultRecorderBuffer = 1024

// UsageRecorder decouples request completion from the hourly upsert. Records
// queue on a bounded channel drained by a single worker, so a slow database
// backs up the queue rather than spawning a goroutine per request. A full
// queue drops the record; usage rows are telemetry, not an audit ledger.
type UsageRecorder struct {
	usage *UsageService

	records   chan RequestRecord
	done      chan struct{}
	closeOnce sync.Once
}

func NewUsageRecorder(usage *UsageService, buffer int) *UsageRecorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}

	r := &UsageRecorder{
		usage:   usage,
		records: make(chan RequestRecord, buffer),
		done:    make(chan struct{}),
	}
	go r.run()

	return r
}

func (r *UsageRecorder) run() {
	defer close(r.done)

	for rec := range r.records {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.usage.Record(ctx, rec); err != nil {
			log.Printf("Failed to record usage for tenant %s: %v", rec.TenantID, err)
		}
		cancel()
	}
}

// Enqueue never blocks the caller.
func (r *UsageRecorder) Enqueue(rec RequestRecord) {
	select {
	case r.records <- rec:
	default:
		log.Printf("Usage queue full, dropping record for tenant %s", rec.TenantID)
	}
}

// Close drains queued records before returning. The server must stop
// accepting requests first; Enqueue after Close panics.
func (r *UsageRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.records)
	})
	<-r.done
}
