// Package wechat is the red packet job for the WeChat client.
package wechat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

const (
	Name        = "WeChat"
	PackageName = "com.tencent.mm"

	HongbaoKeyword = "[微信红包]"
	ClaimText      = "领取红包"
	OpenTarget     = "open"
	SeeLuckTarget  = "see_luck"

	ReceiveUIClass  = "com.tencent.mm.plugin.luckymoney.ui.LuckyMoneyReceiveUI"
	DetailUIClass   = "com.tencent.mm.plugin.luckymoney.ui.LuckyMoneyDetailUI"
	LauncherUIClass = "com.tencent.mm.ui.LauncherUI"
)

// After-get values stored under settings.KeyWechatAfterGetHongbao
const (
	AfterGetBack = 0
	AfterGetStay = 1
)

var ErrNoHost = errors.New("wechat job requires a host")

// Job grabs WeChat red packets
type Job struct {
	enableKey string

	mu      sync.Mutex
	host    jobs.Host
	logger  *logger.Logger
	pending map[*time.Timer]struct{}
	stopped bool
}

// New is the registry factory for the WeChat job
func New() (jobs.Job, error) {
	return &Job{
		enableKey: jobs.EnableKey(Name),
		pending:   make(map[*time.Timer]struct{}),
	}, nil
}

func (j *Job) OnCreateJob(ctx context.Context, host jobs.Host) error {
	if host == nil || host.Settings() == nil {
		return ErrNoHost
	}
	j.mu.Lock()
	j.host = host
	j.logger = host.Logger().WithJob(PackageName)
	j.mu.Unlock()
	return nil
}

// OnStopJob cancels delayed clicks that have not fired yet
func (j *Job) OnStopJob() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	for t := range j.pending {
		t.Stop()
	}
	j.pending = make(map[*time.Timer]struct{})
}

func (j *Job) TargetApplicationID() string {
	return PackageName
}

// EnableKey returns the settings key of this job's enable flag
func (j *Job) EnableKey() string {
	return j.enableKey
}

func (j *Job) IsEnabled(ctx context.Context) bool {
	return j.settings().IsJobEnabled(ctx, j.enableKey)
}

func (j *Job) OnReceiveJob(ctx context.Context, event *models.UIEvent) error {
	switch event.Type {
	case models.EventNotificationStateChanged:
		if containsAny(event.Text, HongbaoKeyword) {
			return j.perform(ctx, jobs.Action{Kind: jobs.ActionOpenNotification, Target: event.ID})
		}
	case models.EventWindowStateChanged:
		return j.onWindowChanged(ctx, event)
	case models.EventWindowContentChanged:
		if containsAny(event.Text, ClaimText) {
			return j.perform(ctx, jobs.Action{Kind: jobs.ActionClick, Target: ClaimText})
		}
	}
	return nil
}

func (j *Job) OnNotificationPosted(ctx context.Context, notification *models.Notification) error {
	if !notification.Contains(HongbaoKeyword) {
		return nil
	}
	return j.perform(ctx, jobs.Action{Kind: jobs.ActionOpenNotification, Target: notification.ID})
}

func (j *Job) onWindowChanged(ctx context.Context, event *models.UIEvent) error {
	store := j.settings()

	switch event.ClassName {
	case ReceiveUIClass:
		switch j.afterOpenMode(ctx, store) {
		case models.AfterOpenHongbao:
			delay := time.Duration(store.Int(ctx, settings.KeyWechatDelayTime, 0)) * time.Millisecond
			return j.performAfter(ctx, delay, jobs.Action{Kind: jobs.ActionClick, Target: OpenTarget})
		case models.AfterOpenSee:
			return j.perform(ctx, jobs.Action{Kind: jobs.ActionClick, Target: SeeLuckTarget})
		}
	case DetailUIClass:
		if store.Int(ctx, settings.KeyWechatAfterGetHongbao, AfterGetBack) == AfterGetBack {
			return j.perform(ctx, jobs.Action{Kind: jobs.ActionBack})
		}
	case LauncherUIClass:
		if containsAny(event.Text, ClaimText) {
			return j.perform(ctx, jobs.Action{Kind: jobs.ActionClick, Target: ClaimText})
		}
	}
	return nil
}

// afterOpenMode reads the stored after-open value. Values outside the known
// range leave the dialog alone.
func (j *Job) afterOpenMode(ctx context.Context, store settings.Store) models.AfterOpenMode {
	raw := store.Int(ctx, settings.KeyWechatAfterOpenHongbao, int(models.AfterOpenHongbao))
	mode, err := models.ParseAfterOpenMode(strconv.Itoa(raw))
	if err != nil {
		if log := j.currentLogger(); log != nil {
			log.Warn().
				Err(err).
				Str("action", "after_open_mode_invalid").
				Int("value", raw).
				Msg("Ignoring unknown after-open mode")
		}
		return models.AfterOpenNone
	}
	return mode
}

func (j *Job) perform(ctx context.Context, action jobs.Action) error {
	host := j.currentHost()
	if host == nil {
		return ErrNoHost
	}
	if err := host.Actions().Perform(ctx, action); err != nil {
		return fmt.Errorf("wechat %s %s: %w", action.Kind, action.Target, err)
	}
	return nil
}

// performAfter runs action once delay has passed without blocking the caller
func (j *Job) performAfter(ctx context.Context, delay time.Duration, action jobs.Action) error {
	if delay <= 0 {
		return j.perform(ctx, action)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		j.mu.Lock()
		_, live := j.pending[timer]
		delete(j.pending, timer)
		j.mu.Unlock()
		if !live {
			return
		}
		if err := j.perform(context.Background(), action); err != nil {
			j.logger.Error().
				Err(err).
				Str("action", "delayed_perform_failed").
				Dur("delay", delay).
				Msg("Delayed gesture failed")
		}
	})
	j.pending[timer] = struct{}{}
	return nil
}

func (j *Job) currentHost() jobs.Host {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.host
}

func (j *Job) currentLogger() *logger.Logger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logger
}

func (j *Job) settings() settings.Store {
	if host := j.currentHost(); host != nil {
		return host.Settings()
	}
	return settings.NewMemoryStore()
}

func containsAny(lines []string, needle string) bool {
	for _, line := range lines {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

var _ jobs.Job = (*Job)(nil)
