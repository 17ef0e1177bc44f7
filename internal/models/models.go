package models

import (
	"time"

	"github.com/friendsincode/skald_publish/internal/scheduling"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin  RoleName = "admin"
	RoleEditor RoleName = "editor"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shop is a connected Shopify store. Posts belong to exactly one shop.
type Shop struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Domain      string `gorm:"uniqueIndex"` // myshopify.com domain
	AccessToken string `gorm:"type:varchar(255)"`
	BlogID      string `gorm:"type:varchar(64)"` // default Shopify blog for new posts
	Timezone    string `gorm:"type:varchar(64)"` // IANA identifier, default for scheduling forms

	// MinLeadMinutes overrides the policy lead time for this shop when > 0.
	MinLeadMinutes int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Post is a blog article draft with its publication lifecycle.
//
// The schedule is persisted in two forms with distinct roles: ScheduledAt is
// the absolute UTC instant the dispatcher fires on, ScheduledLocal and
// ScheduledZone echo the author's original calendar choice for display only.
// Display fields are never used for dispatch arithmetic.
type Post struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	ShopID   string `gorm:"type:uuid;index"`
	BlogID   string `gorm:"type:varchar(64)"`
	AuthorID string `gorm:"type:uuid"`
	Title    string `gorm:"index"`
	Handle   string `gorm:"type:varchar(255)"`
	BodyHTML string `gorm:"type:text"`
	Tags     string `gorm:"type:text"` // comma separated, Shopify convention

	Status         scheduling.Status `gorm:"type:varchar(16);index"`
	ScheduledAt    *time.Time        `gorm:"index"`
	ScheduledLocal string            `gorm:"type:varchar(20)"`
	ScheduledZone  string            `gorm:"type:varchar(64)"`

	PublishedAt      *time.Time
	ShopifyArticleID string `gorm:"type:varchar(64)"`
	LastError        string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule extracts the lifecycle snapshot for the transition functions.
func (p *Post) Schedule() scheduling.PostSchedule {
	return scheduling.PostSchedule{
		Status:         p.Status,
		ScheduledAt:    p.ScheduledAt,
		ScheduledLocal: p.ScheduledLocal,
		ScheduledZone:  p.ScheduledZone,
	}
}

// ApplySchedule writes a lifecycle snapshot back onto the post.
func (p *Post) ApplySchedule(ps scheduling.PostSchedule) {
	p.Status = ps.Status
	p.ScheduledAt = ps.ScheduledAt
	p.ScheduledLocal = ps.ScheduledLocal
	p.ScheduledZone = ps.ScheduledZone
}

// PublishAttempt records one dispatch against the Shopify Admin API.
type PublishAttempt struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	PostID     string `gorm:"type:uuid;index"`
	ShopID     string `gorm:"type:uuid;index"`
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	HTTPStatus int
	ArticleID  string `gorm:"type:varchar(64)"`
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
}
