package db

import (
	"encoding/json"
	"time"
)

// Source maps listings.sources. One row per external listing origin.
type Source struct {
	SourceID   int64  `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID string `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug       string `gorm:"column:slug;type:text;not null;unique"`
	Name       string `gorm:"column:name;type:text;not null"`
	URL        string `gorm:"column:url;type:text;not null"`
	SourceType string `gorm:"column:source_type;type:text;not null;default:venue"`
	IsActive   bool   `gorm:"column:is_active;type:boolean;not null;default:true"`

	// CrawlFrequency is a cron expression consumed by the scheduler command.
	CrawlFrequency    string          `gorm:"column:crawl_frequency;type:text;not null;default:'15 * * * *'"`
	IntegrationMethod string          `gorm:"column:integration_method;type:text;not null;default:profile"`
	Portal            *string         `gorm:"column:portal;type:text"`
	ProfileConfig     json.RawMessage `gorm:"column:profile_config;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "listings.sources" }

// Venue maps listings.venues.
type Venue struct {
	VenueID   int64   `gorm:"column:venue_id;primaryKey;autoIncrement"`
	VenueUUID string  `gorm:"column:venue_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug      string  `gorm:"column:slug;type:text;not null;unique"`
	Name      string  `gorm:"column:name;type:text;not null"`
	Address   *string `gorm:"column:address;type:text"`
	City      *string `gorm:"column:city;type:text"`
	VenueType *string `gorm:"column:venue_type;type:text"`
	Vibes     *string `gorm:"column:vibes;type:text"`
	Website   *string `gorm:"column:website;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Venue) TableName() string { return "listings.venues" }

// Event maps listings.events. At most one active row may exist per
// (source_id, content_hash); the partial unique index enforcing that is
// created by the post-auto-migrate SQL.
type Event struct {
	EventID         int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID       string    `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID        int64     `gorm:"column:source_id;type:bigint;not null"`
	VenueID         *int64    `gorm:"column:venue_id;type:bigint"`
	Title           string    `gorm:"column:title;type:text;not null"`
	NormalizedTitle string    `gorm:"column:normalized_title;type:text;not null"`
	StartDate       time.Time `gorm:"column:start_date;type:date;not null"`
	StartTime       *string   `gorm:"column:start_time;type:text"`
	EndTime         *string   `gorm:"column:end_time;type:text"`
	Description     *string   `gorm:"column:description;type:text"`
	Category        *string   `gorm:"column:category;type:text"`
	Tags            *string   `gorm:"column:tags;type:text"`
	Language        string    `gorm:"column:language;type:text;not null;default:und"`
	URL             *string   `gorm:"column:url;type:text"`
	ContentHash     string    `gorm:"column:content_hash;type:text;not null"`
	IsActive        bool      `gorm:"column:is_active;type:boolean;not null;default:true"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Event) TableName() string { return "listings.events" }

// CrawlRun maps listings.crawl_runs, the per-crawl ledger. Dry runs are
// never recorded here.
type CrawlRun struct {
	RunID         int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	CrawlRunUUID  string     `gorm:"column:crawl_run_uuid;type:uuid;not null;unique"`
	SourceSlug    string     `gorm:"column:source_slug;type:text;not null"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status        string     `gorm:"column:status;type:text;not null;default:running"`
	EventsFound   int        `gorm:"column:events_found;type:integer;not null;default:0"`
	EventsNew     int        `gorm:"column:events_new;type:integer;not null;default:0"`
	EventsUpdated int        `gorm:"column:events_updated;type:integer;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
}

func (CrawlRun) TableName() string { return "listings.crawl_runs" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&Venue{},
		&Event{},
		&CrawlRun{},
	}
}
