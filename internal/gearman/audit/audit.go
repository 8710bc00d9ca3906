// Package audit batch-writes endpoint lifecycle and task-outcome
// records to Postgres, the D5 collaborator named in SPEC_FULL.md.
// Instead of consuming a Kafka topic like the teacher's BatchWriter,
// Sink is fed directly off the Observer call path (it IS an
// endpoint.Observer) and applies the same size/interval flush
// discipline to its own in-process channel.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
)

// Record is one audited event. ID is a fresh uuid assigned on
// enqueue, giving every row a stable identity independent of its
// eventual database-assigned primary key.
type Record struct {
	ID       string
	HostSpec string
	Kind     string // "state_change", "protocol_violation", "task_outcome"
	From     string
	To       string
	Handle   string
	Outcome  string
	Detail   string
	Recorded time.Time
}

// DB wraps the Postgres connection the sink writes to.
type DB struct {
	*sql.DB
}

// Connect opens the audit database, mirroring the teacher's
// database.Connect pool-sizing defaults.
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &DB{db}, nil
}

// InsertRecords batch-inserts records in a single statement.
func (db *DB) InsertRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	query := `
		INSERT INTO endpoint_audit_log (
			id, host_spec, kind, from_state, to_state, handle, outcome, detail, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("audit: begin tx: %w", err)
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("audit: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.ID, r.HostSpec, r.Kind, r.From, r.To, r.Handle, r.Outcome, r.Detail, r.Recorded); err != nil {
			tx.Rollback()
			return fmt.Errorf("audit: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Sink buffers Records and flushes them to Postgres whenever batchSize
// is reached or flushInterval elapses, whichever comes first.
type Sink struct {
	db            *DB
	batchSize     int
	flushInterval time.Duration
	records       chan Record
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewSink creates a Sink. Call Start before registering it as an
// endpoint.Observer.
func NewSink(db *DB, batchSize int, flushInterval time.Duration) *Sink {
	return &Sink{
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		records:       make(chan Record, batchSize*4),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the batching goroutine.
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop flushes any pending records and stops the batching goroutine.
func (s *Sink) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()

	var batch []Record
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			for len(s.records) > 0 {
				batch = append(batch, <-s.records)
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = nil
			}

		case r := <-s.records:
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = nil
			}
		}
	}
}

func (s *Sink) flush(batch []Record) {
	if err := s.db.InsertRecords(batch); err != nil {
		log.Printf("audit: failed to flush %d records: %v", len(batch), err)
	}
}

func (s *Sink) enqueue(r Record) {
	r.ID = uuid.NewString()
	r.Recorded = time.Now()
	select {
	case s.records <- r:
	default:
		log.Printf("audit: record buffer full, dropping %s event for %s", r.Kind, r.HostSpec)
	}
}

// OnStateChange implements endpoint.Observer.
func (s *Sink) OnStateChange(ep *endpoint.Endpoint, from, to endpoint.State) {
	s.enqueue(Record{HostSpec: ep.HostSpec().String(), Kind: "state_change", From: from.String(), To: to.String()})
}

// OnProtocolViolation implements endpoint.Observer.
func (s *Sink) OnProtocolViolation(ep *endpoint.Endpoint, err error) {
	s.enqueue(Record{HostSpec: ep.HostSpec().String(), Kind: "protocol_violation", Detail: err.Error()})
}

// OnTaskOutcome implements endpoint.Observer.
func (s *Sink) OnTaskOutcome(ep *endpoint.Endpoint, handle string, outcome endpoint.Outcome) {
	s.enqueue(Record{HostSpec: ep.HostSpec().String(), Kind: "task_outcome", Handle: handle, Outcome: outcome.String()})
}
