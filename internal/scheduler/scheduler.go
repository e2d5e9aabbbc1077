// Package scheduler runs the periodic producers: heartbeat messages,
// the daily summary trigger, and the hourly cost alert. These only
// append rows to the streams; the agent loop consumes them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/pulsebot/internal/config"
	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// RowWriter appends one row to a stream.
type RowWriter interface {
	Write(ctx context.Context, data map[string]any) (string, error)
}

const hourlyCostQuery = `SELECT sum(estimated_cost) AS hourly_cost, count() AS req_count
FROM table(llm_logs)
WHERE timestamp > now() - interval 1 hour`

// Scheduler owns the periodic producer tasks.
type Scheduler struct {
	cfg      config.ScheduledTasksConfig
	messages RowWriter
	events   RowWriter
	querier  timeplus.Querier
	cron     *cron.Cron
	logger   *slog.Logger
}

// Job describes one configured producer for operator tooling.
type Job struct {
	Name     string
	Schedule string
	Enabled  bool
}

// New builds the scheduler. querier is used only by the cost alert.
func New(cfg config.ScheduledTasksConfig, messages, events RowWriter, querier timeplus.Querier) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		messages: messages,
		events:   events,
		querier:  querier,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Jobs lists the configured producers and their schedules.
func (s *Scheduler) Jobs() []Job {
	return []Job{
		{Name: "heartbeat", Schedule: s.heartbeatInterval().String(), Enabled: s.cfg.Heartbeat.Enabled},
		{Name: "daily_summary", Schedule: s.cfg.DailySummary.Cron, Enabled: s.cfg.DailySummary.Enabled},
		{Name: "cost_alert", Schedule: "@hourly", Enabled: s.cfg.CostAlert.Enabled},
	}
}

// Run starts the enabled producers and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.DailySummary.Enabled {
		if _, err := s.cron.AddFunc(s.cfg.DailySummary.Cron, func() {
			s.emitDailySummary(ctx)
		}); err != nil {
			return fmt.Errorf("invalid daily summary cron %q: %w", s.cfg.DailySummary.Cron, err)
		}
		s.logger.Info("daily summary scheduled", "cron", s.cfg.DailySummary.Cron)
	}
	if s.cfg.CostAlert.Enabled {
		if _, err := s.cron.AddFunc("@hourly", func() {
			s.checkCost(ctx)
		}); err != nil {
			return fmt.Errorf("scheduling cost alert: %w", err)
		}
		s.logger.Info("cost alert scheduled", "threshold_usd", s.cfg.CostAlert.ThresholdUSD)
	}
	s.cron.Start()
	defer s.cron.Stop()

	if s.cfg.Heartbeat.Enabled {
		interval := s.heartbeatInterval()
		s.logger.Info("heartbeat enabled", "interval", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.emitHeartbeat(ctx)
			}
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduler) heartbeatInterval() time.Duration {
	interval, err := time.ParseDuration(s.cfg.Heartbeat.Interval)
	if err != nil || interval <= 0 {
		return 30 * time.Minute
	}
	return interval
}

// emitHeartbeat appends a heartbeat message targeted at the agent.
func (s *Scheduler) emitHeartbeat(ctx context.Context) {
	checks := s.cfg.Heartbeat.Checks
	if len(checks) == 0 {
		checks = []string{"calendar", "reminders"}
	}
	content := format.JSONString(map[string]any{
		"action": "proactive_check",
		"checks": checks,
	}, "{}")

	_, err := s.messages.Write(ctx, map[string]any{
		"source":           "system",
		"target":           "agent",
		"session_id":       uuid.NewString(),
		"message_type":     "heartbeat",
		"content":          content,
		"user_id":          "system",
		"channel_metadata": "",
		"priority":         int8(0),
	})
	if err != nil {
		s.logger.Warn("failed to write heartbeat", "error", err)
		return
	}
	s.logger.Debug("heartbeat emitted")
}

// emitDailySummary appends the daily briefing trigger.
func (s *Scheduler) emitDailySummary(ctx context.Context) {
	include := s.cfg.DailySummary.Include
	if len(include) == 0 {
		include = []string{"calendar", "weather", "news", "reminders"}
	}
	content := format.JSONString(map[string]any{
		"action":  "generate_daily_briefing",
		"include": include,
	}, "{}")

	_, err := s.messages.Write(ctx, map[string]any{
		"source":           "system",
		"target":           "agent",
		"session_id":       uuid.NewString(),
		"message_type":     "scheduled_task",
		"content":          content,
		"user_id":          "system",
		"channel_metadata": "",
		"priority":         int8(1),
	})
	if err != nil {
		s.logger.Warn("failed to write daily summary trigger", "error", err)
		return
	}
	s.logger.Info("daily summary trigger emitted")
}

// checkCost aggregates the last hour of LLM spend and appends a cost
// event, severity warning once the threshold is crossed.
func (s *Scheduler) checkCost(ctx context.Context) {
	rows, err := s.querier.Query(ctx, hourlyCostQuery)
	if err != nil {
		s.logger.Warn("cost query failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	hourlyCost := rows[0].Float("hourly_cost")
	requestCount := rows[0].Int("req_count")

	severity := "info"
	if hourlyCost > s.cfg.CostAlert.ThresholdUSD {
		severity = "warning"
		s.logger.Warn("hourly cost threshold exceeded",
			"hourly_cost_usd", hourlyCost, "threshold_usd", s.cfg.CostAlert.ThresholdUSD)
	}

	payload := format.JSONString(map[string]any{
		"hourly_cost_usd": hourlyCost,
		"request_count":   requestCount,
		"threshold_usd":   s.cfg.CostAlert.ThresholdUSD,
	}, "{}")

	_, err = s.events.Write(ctx, map[string]any{
		"event_type": "cost_alert",
		"source":     "llm_monitor",
		"severity":   severity,
		"payload":    payload,
		"tags":       []string{"cost", "llm"},
	})
	if err != nil {
		s.logger.Warn("failed to write cost event", "error", err)
	}
}
