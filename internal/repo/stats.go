// Package repo implements the data persistence layer for verification flows,
// backed by GORM. This file provides small aggregate queries used by the ops
// stats endpoint. Reporting proper lives outside this service; these counts
// exist so an operator can eyeball the table without a SQL console.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
)

// FlowStats is a point-in-time aggregate over the flow table.
type FlowStats struct {
	Total         int64                        `json:"total"`
	ByStatus      map[domain.FlowStatus]int64  `json:"by_status"`
	OldestPending *time.Time                   `json:"oldest_pending,omitempty"`
}

// CountFlows returns row counts per status plus the creation time of the
// oldest pending row (useful for spotting a stuck expiry sweep).
func CountFlows(ctx context.Context, db *gorm.DB) (*FlowStats, error) {
	stats := &FlowStats{ByStatus: make(map[domain.FlowStatus]int64, 4)}

	var rows []struct {
		Status domain.FlowStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Flow{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.N
		stats.Total += r.N
	}

	if stats.ByStatus[domain.FlowPending] > 0 {
		var row struct {
			CreatedAt time.Time
		}
		err = db.WithContext(ctx).
			Model(&domain.Flow{}).
			Select("created_at").
			Where("status = ?", domain.FlowPending).
			Order("created_at ASC").
			Limit(1).
			Scan(&row).Error
		if err != nil {
			return nil, err
		}
		stats.OldestPending = &row.CreatedAt
	}

	return stats, nil
}
