// Package queue implements a ruleset's optional private queue: a
// channel-fed, ticker-flushed batch writer satisfying core/ruleset.Queue.
// Grounded essentially line for line on
// mbp/db/dao/traffic_log_aggregator.go's worker loop (channel ingest,
// bounded batch, ticker flush; a batch whose insert fails is logged and
// dropped, not requeued), collapsed from its
// per-day table sharding down to a single table since log messages have no
// day-partition key in this domain, and re-pointed at model.StoredMessage.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"synrelay/common/logx"
	"synrelay/model"
)

// Queue is a ruleset's private message sink: buffered, flushed on a timer
// or when full, backed by a gorm table.
type Queue struct {
	db         *gorm.DB
	tableEnsured bool
	sf         singleflight.Group

	flushEvery time.Duration
	maxBatch   int

	inCh   chan model.StoredMessage
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logx.Logger
}

func New(db *gorm.DB, flushEvery time.Duration, maxBatch int) *Queue {
	if flushEvery <= 0 {
		flushEvery = 700 * time.Millisecond
	}
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		db:         db,
		flushEvery: flushEvery,
		maxBatch:   maxBatch,
		inCh:       make(chan model.StoredMessage, maxBatch),
		ctx:        ctx,
		cancel:     cancel,
		log:        logx.New(logx.WithPrefix("queue")),
	}
	return q
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Infof("queue: started flushEvery=%v maxBatch=%d", q.flushEvery, q.maxBatch)
}

func (q *Queue) Shutdown() {
	q.log.Infof("queue: shutdown begin")
	q.cancel()
	q.wg.Wait()
	q.log.Infof("queue: shutdown done")
}

// Enqueue implements core/ruleset.Queue. A closed/shutting-down queue
// silently drops the message rather than blocking the caller's dispatch
// path, matching the aggregator's shutdown-time drop behavior.
func (q *Queue) Enqueue(msg *model.Message) error {
	if err := q.ensureTable(); err != nil {
		q.log.Debugf("queue: ensure table failed (will retry on next enqueue): %v", err)
	}
	row := toStoredMessage(msg)
	select {
	case <-q.ctx.Done():
		return nil
	case q.inCh <- row:
		return nil
	}
}

func toStoredMessage(msg *model.Message) model.StoredMessage {
	return model.StoredMessage{
		ReceivedAt:  time.Now(),
		Payload:     string(msg.Payload),
		PeerAddr:    msg.PeerAddr,
		PeerFQDN:    msg.PeerFQDN,
		InputName:   msg.InputName,
		RulesetName: msg.RulesetName,
		Facility:    msg.Facility,
		Severity:    msg.Severity,
		Hostname:    msg.Hostname,
		AppName:     msg.AppName,
		ParsedBy:    msg.ParsedBy,
	}
}

// ensureTable auto-migrates the table at most once per process, suppressing
// concurrent duplicate attempts with singleflight — the same pattern
// mbp/db/dao/traffic_log_aggregator.go uses for its per-day tables.
func (q *Queue) ensureTable() error {
	if q.tableEnsured {
		return nil
	}
	_, err, _ := q.sf.Do("ensure", func() (any, error) {
		if q.tableEnsured {
			return nil, nil
		}
		if err := q.db.AutoMigrate(&model.StoredMessage{}); err != nil {
			return nil, err
		}
		q.tableEnsured = true
		return nil, nil
	})
	return err
}

func (q *Queue) worker() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.flushEvery)
	defer ticker.Stop()

	buf := make([]model.StoredMessage, 0, q.maxBatch)

	flush := func() {
		n := len(buf)
		if n == 0 {
			return
		}
		if err := q.db.Create(&buf).Error; err != nil {
			q.log.Errorf("queue: batch insert failed count=%d err=%v (dropped)", n, err)
		} else {
			q.log.Debugf("queue: flushed %d message(s)", n)
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-q.ctx.Done():
			// Drain rows already handed to Enqueue so shutdown flushes them too.
			for {
				select {
				case row := <-q.inCh:
					buf = append(buf, row)
				default:
					flush()
					return
				}
			}
		case row := <-q.inCh:
			buf = append(buf, row)
			if len(buf) >= q.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
