package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an accessibility UI event
type EventType string

const (
	EventWindowStateChanged       EventType = "window_state_changed"
	EventWindowContentChanged     EventType = "window_content_changed"
	EventNotificationStateChanged EventType = "notification_state_changed"
	EventViewClicked              EventType = "view_clicked"
)

// UIEvent is one accessibility event delivered by the OS subsystem
type UIEvent struct {
	ID                  string         `json:"id"`
	Type                EventType      `json:"type"`
	SourceApplicationID string         `json:"source_application_id"`
	ClassName           string         `json:"class_name,omitempty"`
	Text                []string       `json:"text,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
	ReceivedAt          time.Time      `json:"received_at"`
}

// Notification is one status-bar notification posted by an application
type Notification struct {
	ID          string         `json:"id"`
	PackageName string         `json:"package_name"`
	Ticker      string         `json:"ticker,omitempty"`
	Text        []string       `json:"text,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	PostedAt    time.Time      `json:"posted_at"`
}

// Normalize fills ID and ReceivedAt when the producer left them empty
func (e *UIEvent) Normalize(now time.Time) {
	e.SourceApplicationID = strings.TrimSpace(e.SourceApplicationID)
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
}

// Normalize fills ID and PostedAt when the producer left them empty
func (n *Notification) Normalize(now time.Time) {
	n.PackageName = strings.TrimSpace(n.PackageName)
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.PostedAt.IsZero() {
		n.PostedAt = now
	}
}

// Contains reports whether the ticker or any text line contains needle
func (n *Notification) Contains(needle string) bool {
	if strings.Contains(n.Ticker, needle) {
		return true
	}
	for _, line := range n.Text {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}
