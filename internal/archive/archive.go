// Package archive stores a console session in the SQLite database as a
// session logger backend.
package archive

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/database"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/sessionlog"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

// DefaultBatchSize is the number of buffered records that forces a
// commit before the flush interval expires.
const DefaultBatchSize = 256

// Backend buffers RX and TX chunks and commits them in batches under
// one session row. It is driven by a single sessionlog worker.
type Backend struct {
	store     database.Store
	session   *database.Session
	batch     []*database.Record
	batchSize int
	now       func() time.Time

	mu     sync.Mutex
	status string
}

// Start records a new session for cfg and returns the backend that
// archives its traffic. Sessions left open by a crashed process are
// closed first.
func Start(store database.Store, cfg config.Config, version string, at time.Time) (*Backend, error) {
	if n, err := store.RecoverInterrupted(); err != nil {
		log.Printf("[WARN] Recovering interrupted sessions: %v", err)
	} else if n > 0 {
		log.Printf("[INFO] Marked %d interrupted session(s) from a previous run", n)
	}

	port := cfg.Port
	if cfg.Loopback {
		port = "loopback"
	}
	sess := &database.Session{
		Port:       port,
		Baud:       cfg.Baud,
		Format:     cfg.Format.String(),
		LineEnding: cfg.LineEnding.String(),
		Mode:       cfg.Mode.String(),
		StartTime:  timeutil.ToNano(at),
		Status:     database.StatusRunning,
		Metadata:   map[string]string{"version": version},
	}
	if err := store.InsertSession(sess); err != nil {
		return nil, fmt.Errorf("starting archive session: %w", err)
	}
	log.Printf("[INFO] Archiving session %d", sess.SessionID)

	return &Backend{
		store:     store,
		session:   sess,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		status:    database.StatusClosed,
	}, nil
}

// SessionID is the archive row of the running session.
func (b *Backend) SessionID() int64 { return b.session.SessionID }

// SetStatus selects the status written when the backend closes. It may
// be called from any goroutine.
func (b *Backend) SetStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *Backend) finalStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Abandon ends the session row as interrupted without committing the
// buffered batch. It is for a logger whose worker never reached Close;
// a late Close keeps the interrupted status.
func (b *Backend) Abandon(at time.Time) error {
	b.SetStatus(database.StatusInterrupted)
	if err := b.store.EndSession(b.session.SessionID, timeutil.ToNano(at), database.StatusInterrupted); err != nil {
		return fmt.Errorf("abandoning archive session %d: %w", b.session.SessionID, err)
	}
	return nil
}

func (b *Backend) Name() string { return "archive" }

func (b *Backend) Accepts(src display.Source) bool {
	return src == display.RX || src == display.TX
}

func (b *Backend) Append(e sessionlog.Entry) error {
	b.batch = append(b.batch, &database.Record{
		SessionID: b.session.SessionID,
		Timestamp: timeutil.ToNano(e.Time),
		Direction: e.Source.String(),
		Data:      e.Data,
	})
	if len(b.batch) >= b.batchSize {
		return b.Flush()
	}
	return nil
}

// Flush commits the buffered records in one transaction.
func (b *Backend) Flush() error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := b.store.BatchInsertRecords(b.batch); err != nil {
		return err
	}
	b.batch = b.batch[:0]
	return nil
}

// Close commits what is left and ends the session row. The store itself
// stays open; its owner closes it.
func (b *Backend) Close() error {
	flushErr := b.Flush()
	if err := b.store.EndSession(b.session.SessionID, timeutil.ToNano(b.now()), b.finalStatus()); err != nil {
		return err
	}
	return flushErr
}

var _ sessionlog.Backend = (*Backend)(nil)
