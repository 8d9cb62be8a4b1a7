package mcpserver

// PublishInput is the input for the publish tool.
type PublishInput struct {
	Target   string `json:"target" jsonschema:"required,Agent target as session:window (e.g. dev:2)"`
	Content  string `json:"content" jsonschema:"required,Message body to deliver"`
	Subject  string `json:"subject,omitempty" jsonschema:"Short subject line for the message"`
	Priority string `json:"priority,omitempty" jsonschema:"Delivery priority: low, normal, high or critical (default: normal)"`
	Category string `json:"category,omitempty" jsonschema:"Notification category: health, recovery, status, task or escalation (default: task)"`
}

// PublishOutput is the output for the publish tool.
type PublishOutput struct {
	MessageID string `json:"message_id"`
	QueueSize int    `json:"queue_size"`
	Method    string `json:"method"`
}

// ReadInput is the input for the read tool.
type ReadInput struct {
	Target string `json:"target" jsonschema:"required,Agent target as session:window to capture"`
	Lines  int    `json:"lines,omitempty" jsonschema:"Number of pane lines to capture (default: 50)"`
}

// ReadOutput is the output for the read tool.
type ReadOutput struct {
	Content string `json:"content"`
}

// StatusInput is the (empty) input for the status tool.
type StatusInput struct{}

// StatusOutput is the output for the status tool.
type StatusOutput struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	MessagesProcessed int64   `json:"messages_processed"`
	QueueSize         int     `json:"queue_size"`
	AvgDeliveryTimeMS float64 `json:"avg_delivery_time_ms"`
	CurrentPerformance string `json:"current_performance"`
}

// StatsInput is the (empty) input for the stats tool.
type StatsInput struct{}

// StatsOutput is the output for the stats tool.
type StatsOutput struct {
	MinMS         float64 `json:"min_ms"`
	AvgMS         float64 `json:"avg_ms"`
	P95MS         float64 `json:"p95_ms"`
	MaxMS         float64 `json:"max_ms"`
	TargetMS      float64 `json:"target_ms"`
	MeetingTarget bool    `json:"meeting_target"`
}

// HistoryInput is the input for the recovery_history tool.
type HistoryInput struct {
	Target string `json:"target" jsonschema:"required,Agent target as session:window"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum rows to return, newest first (default: 20)"`
}

// HistoryRecord is one durable recovery record.
type HistoryRecord struct {
	Issue        string `json:"issue"`
	RecoveryType string `json:"recovery_type"`
	Priority     string `json:"priority"`
	NotifiedPM   string `json:"notified_pm"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	Succeeded    *bool  `json:"succeeded,omitempty"`
}

// HistoryOutput is the output for the recovery_history tool.
type HistoryOutput struct {
	Target  string          `json:"target"`
	Records []HistoryRecord `json:"records"`
}
