package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewWorkerID returns "<hostname>:<pid>:<short uuid>" for heartbeat keys.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "chatsync-worker"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), suffix)
}
