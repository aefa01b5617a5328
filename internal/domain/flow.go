// Package domain defines the persistence models for verification flows and
// the actors that drive them. These types are mapped with GORM and form the
// core data layer of the verification backend.
package domain

import (
	"time"
)

// FlowStatus is the lifecycle state of a verification flow. Pending is the
// only initial state; completed, expired, and failed are terminal.
type FlowStatus string

const (
	FlowPending   FlowStatus = "pending"
	FlowCompleted FlowStatus = "completed"
	FlowExpired   FlowStatus = "expired"
	FlowFailed    FlowStatus = "failed"
)

// ContentContext is the category of forum action a flow protects.
type ContentContext string

const (
	ContextPost    ContentContext = "post"
	ContextTopic   ContentContext = "topic"
	ContextMessage ContentContext = "message"
)

// Contexts lists every known content context, in a stable order.
var Contexts = []ContentContext{ContextPost, ContextTopic, ContextMessage}

// ValidContext reports whether c names a known content context.
func ValidContext(c ContentContext) bool {
	switch c {
	case ContextPost, ContextTopic, ContextMessage:
		return true
	}
	return false
}

// FlowExpiry is how long a pending flow stays completable after creation.
const FlowExpiry = time.Hour

// Flow is one verification attempt, from challenge issuance to completion or
// expiry. Everything except Status, CompletedAt, and Version is immutable
// once the row is written.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Challenge: provider-issued token identifying this flow; globally unique
//     across all statuses. The receipt's subject claim must match it.
//   - Token: opaque value handed to the browser to drive the challenge UI.
//   - Context: content context the flow is bound to ("post"/"topic"/"message").
//   - ActorID: owning user, or nil for flows started anonymously.
//   - Status: lifecycle state; only pending → completed and pending → expired
//     are legal transitions.
//   - Version: optimistic-concurrency counter; every update increments it.
//   - CompletedAt: set exactly once, on the pending → completed transition.
type Flow struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Challenge   string         `json:"challenge"    gorm:"type:varchar(191);not null;uniqueIndex:ux_flows_challenge"`
	Token       string         `json:"token"        gorm:"type:text;not null"`
	Context     ContentContext `json:"context"      gorm:"type:varchar(16);not null;index:idx_flows_actor_context,priority:2;check:context IN ('post','topic','message')"`
	ActorID     *string        `json:"actor_id"     gorm:"type:varchar(64);index:idx_flows_actor_context,priority:1"`
	Status      FlowStatus     `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index"`
	Version     int64          `json:"version"      gorm:"not null;default:1"`
	CreatedAt   time.Time      `json:"created_at"   gorm:"index"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TableName returns the database table name for Flow.
func (Flow) TableName() string { return "verification_flows" }

// Anonymous reports whether the flow was started without an owning actor.
func (f *Flow) Anonymous() bool { return f.ActorID == nil }

// Expired reports whether the flow can no longer be completed, computed on
// read rather than materialized: an expired status is always expired, a
// completed flow never is, and a pending flow expires FlowExpiry after
// creation.
func (f *Flow) Expired(now time.Time) bool {
	switch f.Status {
	case FlowExpired:
		return true
	case FlowCompleted:
		return false
	}
	return now.Sub(f.CreatedAt) > FlowExpiry
}

// Terminal reports whether the flow's status admits no further transition.
func (f *Flow) Terminal() bool {
	return f.Status == FlowCompleted || f.Status == FlowExpired || f.Status == FlowFailed
}
