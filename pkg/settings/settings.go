// Package settings holds the persisted flags the dispatcher and jobs read:
// the global consent switch, per-job enable flags and job tuning values.
package settings

import (
	"context"
	"errors"
)

// Keys shared with the settings UI.
const (
	KeyAgreement                 = "agreement"
	KeyNotificationServiceEnable = "notification_service_enable"
	KeyWechatAfterOpenHongbao    = "wechat_after_open_hongbao"
	KeyWechatDelayTime           = "wechat_delay_time"
	KeyWechatAfterGetHongbao     = "wechat_after_get_hongbao"

	// EnableKeyPrefix prefixes the per-job enable flag, see jobs.EnableKey
	EnableKeyPrefix = "enable_"
)

// ErrEmptyKey is returned by setters given an empty key
var ErrEmptyKey = errors.New("settings key cannot be empty")

// Reader is the read-only view the event dispatcher consumes.
// Implementations must not cache: every call reflects the current stored value.
type Reader interface {
	IsConsentGranted(ctx context.Context) bool
	IsJobEnabled(ctx context.Context, jobKey string) bool
}

// Store is the full settings surface used by jobs and adapters
type Store interface {
	Reader

	Bool(ctx context.Context, key string, def bool) bool
	Int(ctx context.Context, key string, def int) int
	SetBool(ctx context.Context, key string, value bool) error
	SetInt(ctx context.Context, key string, value int) error
}
