package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Signal is a process-wide broadcast emitted on service state changes
type Signal string

const (
	SignalServiceConnected           Signal = "SERVICE_CONNECTED"
	SignalServiceDisconnected        Signal = "SERVICE_DISCONNECTED"
	SignalNotifyListenerConnected    Signal = "NOTIFY_LISTENER_CONNECTED"
	SignalNotifyListenerDisconnected Signal = "NOTIFY_LISTENER_DISCONNECTED"
)

// AfterOpenMode tells the WeChat job what to do once a red packet dialog opens
type AfterOpenMode int

const (
	AfterOpenHongbao AfterOpenMode = 0 // open the packet
	AfterOpenSee     AfterOpenMode = 1 // look at the claimed list
	AfterOpenNone    AfterOpenMode = 2 // do nothing
)

func (m AfterOpenMode) String() string {
	switch m {
	case AfterOpenHongbao:
		return "open"
	case AfterOpenSee:
		return "see"
	case AfterOpenNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseAfterOpenMode accepts the stored integer or its name
func ParseAfterOpenMode(s string) (AfterOpenMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "open", "hongbao":
		return AfterOpenHongbao, nil
	case "see":
		return AfterOpenSee, nil
	case "none":
		return AfterOpenNone, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return AfterOpenNone, fmt.Errorf("invalid after-open mode %q", s)
	}
	mode := AfterOpenMode(n)
	if mode < AfterOpenHongbao || mode > AfterOpenNone {
		return AfterOpenNone, fmt.Errorf("after-open mode %d out of range", n)
	}
	return mode, nil
}
