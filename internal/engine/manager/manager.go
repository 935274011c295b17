// Package manager wires the capture pipeline together: symbol chunks in,
// framed records through the session controller's rule engine and ring
// buffer, drained wire entries out. Stages are goroutines over bounded
// channels; nothing in the intake path ever blocks on the host.
package manager

import (
	"fmt"
	"log"
	"sync"
	"time"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/engine/framer"
	"PCIeSpectra/internal/engine/ring"
	"PCIeSpectra/internal/engine/session"
	"PCIeSpectra/internal/export"
	"PCIeSpectra/internal/model"
	"PCIeSpectra/pkg/tlpstream"
)

// Manager owns the pipeline goroutines for one capture engine instance.
// Multiple managers (multi-board setups) are fully independent.
type Manager struct {
	cfg  *config.Config
	ctrl *session.Controller
	fr   *framer.Framer

	chunkChannel chan *tlpstream.Chunk
	drainSignal  chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup

	streamExp model.Exporter // live export while capturing, may be nil
	drainExp  model.Exporter // acknowledged batch export
	sinks     []model.Sink

	mu       sync.Mutex
	link     model.LinkStatus
	linkSeen bool
}

// NewManager builds a pipeline around the given exporters and sinks. The
// drain exporter is required; the stream exporter and sinks are optional.
func NewManager(cfg *config.Config, streamExp, drainExp model.Exporter, sinks []model.Sink) (*Manager, error) {
	if drainExp == nil {
		return nil, fmt.Errorf("drain exporter is required")
	}
	return &Manager{
		cfg:          cfg,
		ctrl:         session.NewController(),
		fr:           framer.New(cfg.Capture.MaxPayload),
		chunkChannel: make(chan *tlpstream.Chunk, cfg.Capture.ChunkChannelSize),
		drainSignal:  make(chan struct{}, 1),
		done:         make(chan struct{}),
		streamExp:    streamExp,
		drainExp:     drainExp,
		sinks:        sinks,
	}, nil
}

// Input returns the channel to which link symbol chunks should be sent.
func (m *Manager) Input() chan<- *tlpstream.Chunk {
	return m.chunkChannel
}

// Controller exposes the session controller for status composition.
func (m *Manager) Controller() *session.Controller {
	return m.ctrl
}

// Start launches the intake and drain workers.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.intakeWorker()
	go m.drainWorker()
	log.Println("Capture pipeline started.")
}

// Stop shuts the pipeline down. An in-flight drain is interrupted; the
// session state is discarded with the process.
func (m *Manager) Stop() {
	close(m.done)
	m.wg.Wait()
	if m.streamExp != nil {
		m.streamExp.Close()
	}
	m.drainExp.Close()
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			log.Printf("Error closing sink: %v", err)
		}
	}
	log.Println("Capture pipeline stopped.")
}

// intakeWorker is the framing and triage stage: one goroutine consumes
// chunks, frames them and offers every record to the session controller.
func (m *Manager) intakeWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case chunk := <-m.chunkChannel:
			m.handleChunk(chunk)
		}
	}
}

func (m *Manager) handleChunk(chunk *tlpstream.Chunk) {
	m.mu.Lock()
	m.link = chunk.Link
	m.linkSeen = true
	m.mu.Unlock()

	if !chunk.Link.Up {
		if m.ctrl.LinkDown() {
			log.Println("Link down, session aborted.")
		}
		m.mu.Lock()
		m.fr.Reset()
		m.mu.Unlock()
		return
	}

	streaming := m.ctrl.Streaming()
	m.mu.Lock()
	recs := m.fr.Feed(chunk)
	m.mu.Unlock()
	for _, rec := range recs {
		d := m.ctrl.Offer(rec)
		if d.Overflow {
			log.Printf("Overflow: ring buffer full, record seq %d rejected.", d.Seq)
		}
		if d.Triggered {
			log.Printf("Trigger fired at seq %d.", d.Seq)
		}
		if d.Stored && streaming && m.streamExp != nil {
			if err := m.streamExp.Send(d.Seq, export.Encode(&model.Entry{Kind: model.EntryRecord, Record: rec})); err != nil {
				// Live export is best effort; the record stays buffered.
				log.Printf("Live export of seq %d failed: %v", d.Seq, err)
			}
		}
		if d.DrainNow {
			m.signalDrain()
		}
	}
}

func (m *Manager) signalDrain() {
	select {
	case m.drainSignal <- struct{}{}:
	default:
	}
}

// drainWorker runs batch drains. Export failures are retried from the last
// acknowledged sequence number with backoff; the session stays in draining
// until every entry is delivered.
func (m *Manager) drainWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.drainSignal:
			m.runDrain()
		}
	}
}

func (m *Manager) runDrain() {
	entries, err := m.ctrl.DrainEntries()
	if err != nil {
		log.Printf("Drain skipped: %v", err)
		return
	}
	status := m.ctrl.Snapshot()
	log.Printf("Draining %d entries for session %s...", len(entries), status.SessionID)

	backoff := 100 * time.Millisecond
	for {
		// An abort or link loss takes the session out of draining; stop
		// exporting its records and free the worker for the next session. The
		// ID check keeps an abandoned drain from adopting a successor session
		// that is already draining.
		cur := m.ctrl.Snapshot()
		if cur.State != session.StateDraining || cur.SessionID != status.SessionID {
			log.Printf("Drain of session %s abandoned, session no longer draining.", status.SessionID)
			return
		}
		_, err := export.Drain(entries, m.ctrl.LastAcked(), m.drainExp, m.ctrl.Acked)
		if err == nil {
			break
		}
		log.Printf("Export failed, retrying from seq %d: %v", m.ctrl.LastAcked(), err)
		select {
		case <-m.done:
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}

	for _, sink := range m.sinks {
		if err := sink.WriteBatch(status.SessionID, entries); err != nil {
			log.Printf("Sink write failed for session %s: %v", status.SessionID, err)
		}
	}

	if err := m.ctrl.CompleteDrain(); err != nil {
		log.Printf("Drain completion failed: %v", err)
		return
	}
	log.Printf("Session %s drained and closed.", status.SessionID)
}

// Arm validates and starts a new capture session. It fails with
// session.ErrLinkDown when the last reported link status is down.
func (m *Manager) Arm(cfg session.Config) error {
	m.mu.Lock()
	linkDown := m.linkSeen && !m.link.Up
	m.mu.Unlock()
	if linkDown {
		return session.ErrLinkDown
	}

	if err := m.ctrl.Arm(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.fr.Reset()
	m.mu.Unlock()
	if err := m.ctrl.StartCapture(); err != nil {
		return err
	}
	log.Printf("Session armed: capacity=%d policy=%s rules=%d pre=%d post=%d streaming=%v",
		cfg.BufferSize, cfg.Policy, len(cfg.Rules), cfg.PreTrigger, cfg.PostTrigger, cfg.Streaming)
	return nil
}

// Abort discards the active session.
func (m *Manager) Abort() error {
	return m.ctrl.Abort()
}

// Drain stops intake and starts the batch drain for the active session.
func (m *Manager) Drain() error {
	if err := m.ctrl.RequestDrain(); err != nil {
		return err
	}
	m.signalDrain()
	return nil
}

// Status composes the controller snapshot with framer counters and link
// status.
func (m *Manager) Status() session.Status {
	st := m.ctrl.Snapshot()
	m.mu.Lock()
	st.Stats.Framed, st.Stats.Malformed, st.Stats.DLLPs = m.fr.Stats()
	st.Link = m.link
	m.mu.Unlock()
	return st
}

// DefaultSessionConfig builds a session config from the engine defaults, for
// ARM requests that omit fields.
func (m *Manager) DefaultSessionConfig() session.Config {
	policy := ring.Overwrite
	if m.cfg.Capture.DefaultPolicy == "stop-on-full" {
		policy = ring.StopOnFull
	}
	action := model.ActionCapture
	if m.cfg.Capture.DefaultAction == "ignore" {
		action = model.ActionIgnore
	}
	return session.Config{
		BufferSize:    m.cfg.Capture.DefaultBufferSize,
		Policy:        policy,
		DefaultAction: action,
	}
}
