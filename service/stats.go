package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"taskchat/model"
	"taskchat/platform"
)

// RefreshStats recounts the stored records and publishes them as gauges.
func RefreshStats(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	tables := []struct {
		name  string
		value any
	}{
		{"users", &model.User{}},
		{"conversations", &model.Conversation{}},
		{"messages", &model.Message{}},
		{"tasks", &model.Task{}},
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		n, err := model.Count(ctx, db, table.value)
		if err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", table.name, err)
		}
		counts[table.name] = n
		platform.StoredRecords.WithLabelValues(table.name).Set(float64(n))
	}
	return counts, nil
}

// StartStatsJob schedules RefreshStats on schedule and starts the scheduler.
// The caller stops the returned cron on shutdown.
func StartStatsJob(db *gorm.DB, schedule string, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		logger.Infof("[%s] Start scheduled task RefreshStats", "scheduled task")
		startTime := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		counts, err := RefreshStats(ctx, db)
		if err != nil {
			logger.Warnf("[%s] refresh stats error, %s", "scheduled task", err)
			return
		}
		logger.WithFields(logrus.Fields{
			"users":         counts["users"],
			"conversations": counts["conversations"],
			"messages":      counts["messages"],
			"tasks":         counts["tasks"],
		}).Infof("[%s] Finished scheduled task RefreshStats cost %v", "scheduled task", time.Since(startTime))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
