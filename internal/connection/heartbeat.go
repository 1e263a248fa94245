package connection

import (
	"sync"
	"time"
)

// heartbeat sends ping frames on a fixed interval while its socket is open.
type heartbeat struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func (h *heartbeat) halt() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// startHeartbeat starts the socket's heartbeat. A socket has at most one.
func (s *Socket) startHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}

	hb := &heartbeat{stop: make(chan struct{})}

	s.mu.Lock()
	if s.hb != nil || s.closeRequested || s.readyState() != stateOpen {
		s.mu.Unlock()
		return
	}
	s.hb = hb
	s.mu.Unlock()

	go s.heartbeatLoop(hb, interval)
}

// stopHeartbeat stops the running heartbeat, if any.
func (s *Socket) stopHeartbeat() {
	s.mu.Lock()
	hb := s.hb
	s.hb = nil
	s.mu.Unlock()

	if hb != nil {
		hb.halt()
	}
}

// heartbeatLoop exits on stop, or by itself once the socket is no longer open.
func (s *Socket) heartbeatLoop(hb *heartbeat, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			if s.readyState() != stateOpen {
				s.logger.Debug("heartbeat stopped, socket not open", "conn", s.id)
				return
			}
			if err := s.write(pingFrame); err != nil {
				s.logger.Debug("failed to send ping", "conn", s.id, "error", err)
			}
		}
	}
}
