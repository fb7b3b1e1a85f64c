package dom

import "sync"

// SizeReport is the single message type carried by a handshake pipe: the
// guest frame reporting its rendered height to the host.
type SizeReport struct {
	HeightPx int
}

// NewPipe creates a two-endpoint handshake channel. The host retains the
// HostPort and selects on Reports; the GuestPort is transferred into the
// foreign frame via Tree.DeliverPort. The pipe is single-shot: one report
// is buffered, later reports are dropped.
func NewPipe() (*HostPort, *GuestPort) {
	ch := make(chan SizeReport, 1)
	return &HostPort{ch: ch}, &GuestPort{ch: ch}
}

// HostPort is the retained endpoint of a handshake pipe.
type HostPort struct {
	ch chan SizeReport
}

// Reports returns the channel on which the guest's size report arrives.
func (p *HostPort) Reports() <-chan SizeReport { return p.ch }

// GuestPort is the endpoint handed to the foreign frame.
type GuestPort struct {
	mu   sync.Mutex
	ch   chan SizeReport
	sent bool
}

// Report sends a size report to the host. Non-blocking; only the first
// report per pipe is delivered.
func (p *GuestPort) Report(heightPx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent {
		return
	}
	select {
	case p.ch <- SizeReport{HeightPx: heightPx}:
		p.sent = true
	default:
	}
}
