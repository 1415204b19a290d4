package plastiscan

import (
	"sync"
	"time"
)

type notification struct {
	title   string
	message string
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notification
}

func (rn *recordingNotifier) Notify(title, message string) {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	rn.notifications = append(rn.notifications, notification{title: title, message: message})
}

func (rn *recordingNotifier) list() []notification {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	return append([]notification(nil), rn.notifications...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
