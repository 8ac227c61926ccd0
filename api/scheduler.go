/*
scheduler.go - Automated overdue sweep

PURPOSE:
  Periodically scans pending fee records whose due date has passed and
  drives them through the overdue check. Records whose waiver condition
  is already met get waived; the rest go overdue.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only pending records are touched; terminal records are skipped
  - Points-exchange rules are swept with a zero points balance: the
    sweep has no access to external points accounts, so such records go
    overdue and a later explicit evaluate call with the real balance can
    no longer rescue them. Run the sweep after the points sync, not
    before.

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  sweep := NewOverdueSweeper(handler)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - handlers.go: MarkOverdue endpoint (manual, explicit clock)
  - fee/lifecycle.go: The transition rules applied here
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/annualfee-engine/fee"
)

// OverdueSweeper handles automated overdue detection.
type OverdueSweeper struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueSweeper creates a new sweeper.
func NewOverdueSweeper(handler *Handler) *OverdueSweeper {
	return &OverdueSweeper{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (s *OverdueSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the sweeper.
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *OverdueSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep(time.Now().UTC())

	for {
		select {
		case <-s.ticker.C:
			s.sweep(time.Now().UTC())
		case <-s.stop:
			return
		}
	}
}

// sweep pages through pending records and runs the overdue check on each.
func (s *OverdueSweeper) sweep(now time.Time) {
	ctx := context.Background()

	pending := fee.StatusPending
	waived := 0
	overdue := 0

	for page := 1; ; page++ {
		records, _, err := s.Handler.Store.ListRecords(ctx, fee.RecordFilter{
			Status:   &pending,
			Page:     page,
			PageSize: 200,
		})
		if err != nil {
			log.Printf("[Sweeper] Error listing pending records: %v", err)
			return
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			if !now.After(rec.DueDate) {
				continue
			}
			updated, err := s.Handler.Lifecycle.MarkOverdue(ctx, rec.ID, now, decimal.Zero)
			if err != nil {
				log.Printf("[Sweeper] Error checking record %s: %v", rec.ID, err)
				continue
			}
			switch updated.WaiverStatus {
			case fee.StatusWaived:
				waived++
			case fee.StatusOverdue:
				overdue++
			}
		}
	}

	if waived > 0 || overdue > 0 {
		log.Printf("[Sweeper] Completed: %d waived, %d overdue", waived, overdue)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *OverdueSweeper) RunNow(now time.Time) {
	s.sweep(now)
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (s *OverdueSweeper) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
