package bot

import (
	"fmt"
	"time"

	"infobot/internal/domain"
)

// dailyReport renders the periodic statistics summary logged at the end of
// each day and served to operators on demand.
func dailyReport(stats domain.RunStats, uptime time.Duration, sourceCount24h int) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	return fmt.Sprintf(`📊 【InfoBot 日報】
運行時間: %d天 %d小時
收到消息: %d
發送消息: %d
轉發消息: %d
自動回覆: %d
24小時內來源消息: %d`,
		days, hours,
		stats.Received, stats.Sent, stats.Forwarded, stats.AutoReplies,
		sourceCount24h)
}

// finalReport renders the lifetime summary logged once at shutdown.
func finalReport(stats domain.RunStats, uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	return fmt.Sprintf(`📈 【InfoBot 運行總結】
總運行時間: %d天 %d小時 %d分鐘
總收到消息: %d
總發送消息: %d
總轉發消息: %d
總自動回覆: %d`,
		days, hours, minutes,
		stats.Received, stats.Sent, stats.Forwarded, stats.AutoReplies)
}
