// Package telemetry exports session, listener and message counters to InfluxDB2 on a
// fixed interval. No teacher file consumes
// common/config.InfluxDB2Config (it's declared in the ambient config but
// unused); built fresh in the teacher's small-ticker-goroutine idiom (see
// core/queue.Queue.worker) directly against the official
// influxdata/influxdb-client-go/v2 write API.
package telemetry

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"synrelay/common/logx"
)

// Source is polled once per export tick; core/tcpserver.Server satisfies
// it.
type Source interface {
	SessionCount() int
	ListenerCount() int
}

// Exporter periodically writes a point snapshot to an InfluxDB2 bucket.
type Exporter struct {
	client   influxdb2.Client
	org      string
	bucket   string
	interval time.Duration
	source   Source

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	messagesIn atomic.Int64
	log        *logx.Logger
}

// New builds an Exporter against baseURL/token/org/bucket. insecureSkipVerify
// mirrors common/config.InfluxDB2Config's field of the same name, for
// talking to a self-signed dev instance.
func New(baseURL, token, org, bucket string, insecureSkipVerify bool, source Source) *Exporter {
	opts := influxdb2.DefaultOptions()
	if insecureSkipVerify {
		opts = opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	client := influxdb2.NewClientWithOptions(baseURL, token, opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Exporter{
		client:   client,
		org:      org,
		bucket:   bucket,
		interval: 10 * time.Second,
		source:   source,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      logx.New(logx.WithPrefix("telemetry")),
	}
}

// IncMessages records one more message handed to a batch sink; cheap enough
// to call from the hot path, flushed on the next export tick.
func (e *Exporter) IncMessages() { e.messagesIn.Add(1) }

func (e *Exporter) Start() {
	go e.run()
}

func (e *Exporter) Stop() {
	e.cancel()
	<-e.done
	e.client.Close()
}

func (e *Exporter) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	writeAPI := e.client.WriteAPIBlocking(e.org, e.bucket)

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			p := write.NewPoint(
				"synrelay",
				map[string]string{},
				map[string]interface{}{
					"sessions":    e.source.SessionCount(),
					"listeners":   e.source.ListenerCount(),
					"messages_in": e.messagesIn.Swap(0),
				},
				time.Now(),
			)
			if err := writeAPI.WritePoint(e.ctx, p); err != nil {
				e.log.Warnf("telemetry: write failed: %v", err)
			}
		}
	}
}
