package jobs

import (
	"strings"

	"github.com/gosimple/slug"

	"github.com/iddaa-lens/redpacket/pkg/settings"
)

// EnableKey returns the settings key holding a job's enable flag.
// "WeChat" becomes "enable_wechat", "Red Packet" becomes "enable_red_packet".
func EnableKey(jobName string) string {
	s := slug.Make(jobName)
	if s == "" {
		s = "job"
	}
	return settings.EnableKeyPrefix + strings.ReplaceAll(s, "-", "_")
}
