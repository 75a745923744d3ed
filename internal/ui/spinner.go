package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spinner animates a status line while a blocking call runs. All terminal
// writes happen on the spinner goroutine until Stop returns.
type Spinner struct {
	w       io.Writer
	status  string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// StartSpinner begins animating status on w. Call Stop exactly once.
func StartSpinner(w io.Writer, status string) *Spinner {
	s := &Spinner{w: w, status: status, started: time.Now(), stop: make(chan struct{}), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *Spinner) run() {
	defer close(s.done)
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-s.stop:
			fmt.Fprint(s.w, "\r\033[K")
			return
		case <-ticker.C:
			frame := spinRunes[i%len(spinRunes)]
			fmt.Fprintf(s.w, "\r%s%s%s %s", ansiCyan, string(frame), ansiReset, s.status)
		}
	}
}

// Stop clears the line and returns the elapsed time. Safe to call twice.
func (s *Spinner) Stop() time.Duration {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return time.Since(s.started).Round(time.Millisecond)
}
