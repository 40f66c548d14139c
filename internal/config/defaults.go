package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		SiliconFlow: SiliconFlowConfig{
			BaseURL:     "https://api.siliconflow.cn/v1",
			Model:       "Pro/deepseek-ai/DeepSeek-R1",
			MaxTokens:   512,
			Temperature: 0.7,
		},
		Monitor: MonitorConfig{
			CheckIntervalSeconds: 3,
			StaggerSeconds:       1,
			StartSpacingMillis:   500,
		},
		Queue: QueueConfig{
			RetentionDays: 7,
			MaxProcessed:  1000,
		},
		Prompts: PromptsConfig{
			UseAIForAnalysis: true,
			MinMessageLength: 5,
			BlacklistKeywords: []string{
				"广告", "推销", "代购",
			},
			ImportantKeywords: []string{
				"通知", "作业", "考试", "截止", "会议", "保研", "重要",
			},
			UnimportantKeywords: []string{
				"哈哈", "谢谢", "晚安", "早安",
			},
		},
		Driver: DriverConfig{
			ProfileDir:     "~/.infobot/chrome-profile",
			Headless:       true,
			TimeoutSeconds: 30,
		},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "~/.infobot/history.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9187",
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
		},
	}
}
