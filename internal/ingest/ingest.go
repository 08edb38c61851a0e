// Package ingest turns the daemon's line-oriented output stream into a
// strictly ordered queue of decoded JSON payloads. Lines without a decodable
// object are noise and dropped without surfacing an error.
package ingest

import (
	"bufio"
	"io"
	"strings"

	"github.com/codefionn/botschafter/internal/logger"
)

// Ingester pumps one output stream for the lifetime of a session. It stops
// when the stream closes (daemon exit or teardown) and never restarts.
type Ingester struct {
	log   *logger.Logger
	queue *Queue
	done  chan struct{}
}

// New creates an ingester feeding the given queue.
func New(log *logger.Logger, queue *Queue) *Ingester {
	if log == nil {
		log = logger.Global().WithPrefix("ingest")
	}
	return &Ingester{
		log:   log,
		queue: queue,
		done:  make(chan struct{}),
	}
}

// Run reads r line by line, enqueueing every successfully decoded payload in
// arrival order. It blocks until the stream closes, then closes the queue so
// the dispatcher drains the remainder and exits. Run only once, in its own
// goroutine.
func (i *Ingester) Run(r io.Reader) {
	defer close(i.done)
	defer i.queue.Close()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if payload, ok := DecodeLine(line); ok {
				i.queue.Push(payload)
			} else {
				i.log.Debug("dropped non-event line: %q", strings.TrimSpace(line))
			}
		}
		if err != nil {
			// Any read error means the stream is gone; the supervisor
			// reports daemon death separately.
			i.log.Debug("output stream closed: %v", err)
			return
		}
	}
}

// Done is closed once the ingester has observed stream closure and stopped.
func (i *Ingester) Done() <-chan struct{} {
	return i.done
}
