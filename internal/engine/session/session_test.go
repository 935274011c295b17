package session

import (
	"errors"
	"testing"

	"PCIeSpectra/internal/engine/ring"
	"PCIeSpectra/internal/model"
)

func validCfg() Config {
	return Config{BufferSize: 64, Policy: ring.Overwrite, DefaultAction: model.ActionCapture}
}

func rec(tag uint8) *model.TLPRecord {
	return &model.TLPRecord{Valid: true, Header: model.TLPHeader{Type: model.TLPMemory, Tag: tag}}
}

func armed(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c := NewController()
	if err := c.Arm(cfg); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	return c
}

func TestArmValidation(t *testing.T) {
	c := NewController()

	err := c.Arm(Config{BufferSize: 0})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig for zero buffer size, got %v", err)
	}

	err = c.Arm(Config{BufferSize: 8, DefaultAction: model.ActionTrigger})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig for trigger default action, got %v", err)
	}

	err = c.Arm(Config{BufferSize: 8, PreTrigger: -1})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig for negative pre-trigger, got %v", err)
	}

	if c.State() != StateIdle {
		t.Errorf("Failed arms must leave the controller idle, state=%s", c.State())
	}
}

func TestArmWhileBusyFails(t *testing.T) {
	c := armed(t, validCfg())
	err := c.Arm(validCfg())
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}
	if c.State() != StateCapturing {
		t.Errorf("Existing session state must be unchanged, got %s", c.State())
	}
}

func TestOfferAssignsGapFreeSequences(t *testing.T) {
	c := armed(t, validCfg())
	for want := uint64(1); want <= 10; want++ {
		d := c.Offer(rec(uint8(want)))
		if !d.Stored || d.Seq != want {
			t.Fatalf("Offer %d: stored=%v seq=%d", want, d.Stored, d.Seq)
		}
	}
}

func TestIgnoredRecordsCreateNoGaps(t *testing.T) {
	cfg := validCfg()
	tag := uint8(2)
	cfg.Rules = []model.FilterRule{
		{Name: "skip-tag-2", Tag: &tag, Action: model.ActionIgnore},
	}
	c := armed(t, cfg)

	c.Offer(rec(1))
	d := c.Offer(rec(2)) // ignored
	if d.Stored {
		t.Fatal("Ignored record must not be stored")
	}
	d = c.Offer(rec(3))
	if d.Seq != 2 {
		t.Errorf("Ignored record consumed a sequence number: got %d, want 2", d.Seq)
	}
}

func TestTriggerWithoutWindowDrainsImmediately(t *testing.T) {
	cfg := validCfg()
	tag := uint8(5)
	cfg.Rules = []model.FilterRule{
		{Name: "trig", Tag: &tag, Action: model.ActionTrigger},
	}
	c := armed(t, cfg)

	c.Offer(rec(1))
	d := c.Offer(rec(5))
	if !d.Triggered || !d.DrainNow {
		t.Fatalf("Expected immediate drain on trigger, got %+v", d)
	}
	if c.State() != StateDraining {
		t.Errorf("Expected draining state, got %s", c.State())
	}
}

// Pre=5/post=3 with the trigger on the 10th record: the drained window is
// exactly records 5 through 13.
func TestPrePostTriggerWindow(t *testing.T) {
	cfg := validCfg()
	tag := uint8(10)
	cfg.Rules = []model.FilterRule{
		{Name: "trig", Tag: &tag, Action: model.ActionTrigger},
	}
	cfg.PreTrigger = 5
	cfg.PostTrigger = 3
	c := armed(t, cfg)

	var drainAt uint64
	for i := uint8(1); i <= 13; i++ {
		d := c.Offer(rec(i))
		if d.DrainNow {
			drainAt = d.Seq
		}
	}
	if drainAt != 13 {
		t.Fatalf("Expected drain after 3 post-trigger records (seq 13), got %d", drainAt)
	}

	entries, err := c.DrainEntries()
	if err != nil {
		t.Fatalf("DrainEntries failed: %v", err)
	}
	if len(entries) != 9 {
		t.Fatalf("Expected 9 entries (5 pre + trigger + 3 post), got %d", len(entries))
	}
	for i, e := range entries {
		want := uint64(5 + i)
		if e.Kind != model.EntryRecord || e.Record.Seq != want {
			t.Errorf("Entry %d: got seq %d, want %d", i, e.Record.Seq, want)
		}
	}
}

func TestOfferDuringDrainingIsDropped(t *testing.T) {
	c := armed(t, validCfg())
	c.Offer(rec(1))
	if err := c.RequestDrain(); err != nil {
		t.Fatalf("RequestDrain failed: %v", err)
	}
	d := c.Offer(rec(2))
	if d.Stored {
		t.Error("Intake must be stopped while draining")
	}
}

func TestCompleteDrainReturnsToIdle(t *testing.T) {
	c := armed(t, validCfg())
	c.Offer(rec(1))
	if err := c.RequestDrain(); err != nil {
		t.Fatalf("RequestDrain failed: %v", err)
	}
	if _, err := c.DrainEntries(); err != nil {
		t.Fatalf("DrainEntries failed: %v", err)
	}
	if err := c.CompleteDrain(); err != nil {
		t.Fatalf("CompleteDrain failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle after drain, got %s", c.State())
	}
	if err := c.Arm(validCfg()); err != nil {
		t.Errorf("Re-arm after drain failed: %v", err)
	}
}

func TestAbortClearsBuffer(t *testing.T) {
	c := armed(t, validCfg())
	for i := uint8(1); i <= 5; i++ {
		c.Offer(rec(i))
	}
	if err := c.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("Expected idle after abort, got %s", c.State())
	}

	if err := c.Arm(validCfg()); err != nil {
		t.Fatalf("Re-arm after abort failed: %v", err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	d := c.Offer(rec(1))
	if d.Seq != 1 {
		t.Errorf("Ring must be empty after abort: first seq %d, want 1", d.Seq)
	}
}

func TestLinkDownForcesIdleWithEmptyBuffer(t *testing.T) {
	c := armed(t, validCfg())
	for i := uint8(1); i <= 5; i++ {
		c.Offer(rec(i))
	}
	if !c.LinkDown() {
		t.Fatal("LinkDown should tear down an active session")
	}
	if c.State() != StateIdle {
		t.Fatalf("Expected idle after link down, got %s", c.State())
	}
	if c.LinkDown() {
		t.Error("LinkDown with no session should report nothing torn down")
	}

	if err := c.Arm(validCfg()); err != nil {
		t.Fatalf("Re-arm after link down failed: %v", err)
	}
	if err := c.StartCapture(); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	d := c.Offer(rec(1))
	if d.Seq != 1 {
		t.Errorf("Ring must be empty after link down: first seq %d, want 1", d.Seq)
	}
}

func TestStopOnFullRaisesOverflow(t *testing.T) {
	cfg := validCfg()
	cfg.BufferSize = 2
	cfg.Policy = ring.StopOnFull
	c := armed(t, cfg)

	c.Offer(rec(1))
	c.Offer(rec(2))
	d := c.Offer(rec(3))
	if d.Stored || !d.Overflow {
		t.Errorf("Expected overflow rejection, got %+v", d)
	}
	if c.State() != StateCapturing {
		t.Errorf("Overflow must not change session state, got %s", c.State())
	}
}

func TestTriggerFiresOnFullBuffer(t *testing.T) {
	cfg := validCfg()
	cfg.BufferSize = 2
	cfg.Policy = ring.StopOnFull
	tag := uint8(9)
	cfg.Rules = []model.FilterRule{
		{Name: "trig", Tag: &tag, Action: model.ActionTrigger},
	}
	c := armed(t, cfg)

	c.Offer(rec(1))
	c.Offer(rec(2))
	d := c.Offer(rec(9))
	if !d.Overflow {
		t.Fatalf("Expected the full ring to reject the record, got %+v", d)
	}
	if !d.Triggered || !d.DrainNow {
		t.Fatalf("Trigger must fire even on a rejected record, got %+v", d)
	}
	if c.State() != StateDraining {
		t.Errorf("Expected draining state, got %s", c.State())
	}
}

func TestPostTriggerCountAdvancesOnRejectedRecords(t *testing.T) {
	cfg := validCfg()
	cfg.BufferSize = 2
	cfg.Policy = ring.StopOnFull
	cfg.PostTrigger = 2
	tag := uint8(9)
	cfg.Rules = []model.FilterRule{
		{Name: "trig", Tag: &tag, Action: model.ActionTrigger},
	}
	c := armed(t, cfg)

	c.Offer(rec(1))
	c.Offer(rec(2))
	d := c.Offer(rec(9))
	if !d.Triggered {
		t.Fatalf("Expected trigger, got %+v", d)
	}

	// The ring stays full, so the post-trigger window is filled by rejected
	// records; the session must still reach draining.
	c.Offer(rec(4))
	d = c.Offer(rec(5))
	if !d.DrainNow {
		t.Fatalf("Expected drain after the post-trigger count, got %+v", d)
	}
	if c.State() != StateDraining {
		t.Errorf("Expected draining state, got %s", c.State())
	}
}

func TestAckedTracksHighWater(t *testing.T) {
	c := armed(t, validCfg())
	c.Acked(3)
	c.Acked(2)
	if c.LastAcked() != 3 {
		t.Errorf("LastAcked mismatch: got %d, want 3", c.LastAcked())
	}
}

func TestSnapshotReflectsOccupancy(t *testing.T) {
	c := armed(t, validCfg())
	c.Offer(rec(1))
	c.Offer(rec(2))
	st := c.Snapshot()
	if st.State != StateCapturing || st.Occupancy != 2 || st.Capacity != 64 {
		t.Errorf("Snapshot mismatch: %+v", st)
	}
}
