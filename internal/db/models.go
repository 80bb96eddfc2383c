package db

import (
	"encoding/json"
	"time"
)

// IngestRun maps news.ingest_runs.
type IngestRun struct {
	RunID         int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID       string     `gorm:"column:run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Source        string     `gorm:"column:source;type:text;not null"`
	StartedAt     time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt    *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status        string     `gorm:"column:status;type:text;not null;default:running"`
	ItemsFetched  int        `gorm:"column:items_fetched;type:integer;not null;default:0"`
	ItemsInserted int        `gorm:"column:items_inserted;type:integer;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestRun) TableName() string { return "news.ingest_runs" }

// RawArrival maps news.raw_arrivals, the append-only ingest ledger. A row is
// pending until a news.resolution_events row references it.
type RawArrival struct {
	RawArrivalID      int64           `gorm:"column:raw_arrival_id;primaryKey;autoIncrement"`
	RawArrivalUUID    string          `gorm:"column:raw_arrival_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	RunID             int64           `gorm:"column:run_id;type:bigint;not null"`
	Source            string          `gorm:"column:source;type:text;not null"`
	SourceItemID      string          `gorm:"column:source_item_id;type:text;not null"`
	SourcePublishedAt *time.Time      `gorm:"column:source_published_at;type:timestamptz"`
	FetchedAt         time.Time       `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	RawPayload        json.RawMessage `gorm:"column:raw_payload;type:jsonb;not null"`
	PayloadHash       []byte          `gorm:"column:payload_hash;type:bytea;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (RawArrival) TableName() string { return "news.raw_arrivals" }

// Article maps news.articles, the canonical record. article_uuid and slug are
// assigned at registration and never change afterwards.
type Article struct {
	ArticleID       int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID     string          `gorm:"column:article_uuid;type:uuid;not null;unique"`
	Slug            string          `gorm:"column:slug;type:text;not null;unique"`
	Title           string          `gorm:"column:title;type:text;not null"`
	Summary         string          `gorm:"column:summary;type:text;not null"`
	FullText        string          `gorm:"column:full_text;type:text;not null;default:''"`
	PublishedAt     time.Time       `gorm:"column:published_at;type:timestamptz;not null"`
	Source          string          `gorm:"column:source;type:text;not null"`
	SourceItemID    string          `gorm:"column:source_item_id;type:text;not null"`
	DisplayEntities json.RawMessage `gorm:"column:display_entities;type:jsonb"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null"`
}

func (Article) TableName() string { return "news.articles" }

// ArticleCVE maps news.article_cves. The unique constraint gives CVE
// membership set semantics per article.
type ArticleCVE struct {
	ArticleCVEID   int64    `gorm:"column:article_cve_id;primaryKey;autoIncrement"`
	ArticleID      int64    `gorm:"column:article_id;type:bigint;not null;uniqueIndex:uq_article_cve,priority:1"`
	CVEID          string   `gorm:"column:cve_id;type:text;not null;uniqueIndex:uq_article_cve,priority:2"`
	CVSSScore      *float64 `gorm:"column:cvss_score;type:double precision"`
	Severity       string   `gorm:"column:severity;type:text;not null;default:unknown"`
	KnownExploited bool     `gorm:"column:known_exploited;type:boolean;not null;default:false"`
}

func (ArticleCVE) TableName() string { return "news.article_cves" }

// ArticleEntity maps news.article_entities. Only indexed entity types land
// here; low-signal types live in articles.display_entities only.
type ArticleEntity struct {
	ArticleEntityID int64  `gorm:"column:article_entity_id;primaryKey;autoIncrement"`
	ArticleID       int64  `gorm:"column:article_id;type:bigint;not null;uniqueIndex:uq_article_entity,priority:1"`
	EntityType      string `gorm:"column:entity_type;type:text;not null;uniqueIndex:uq_article_entity,priority:2"`
	Name            string `gorm:"column:name;type:text;not null;uniqueIndex:uq_article_entity,priority:3"`
}

func (ArticleEntity) TableName() string { return "news.article_entities" }

// UpdateHistoryEntry maps news.update_history. entry_key deduplicates retried
// merges so one adjudication appends exactly one entry.
type UpdateHistoryEntry struct {
	EntryID       int64           `gorm:"column:entry_id;primaryKey;autoIncrement"`
	ArticleID     int64           `gorm:"column:article_id;type:bigint;not null;uniqueIndex:uq_history_entry,priority:1"`
	EntryKey      []byte          `gorm:"column:entry_key;type:bytea;not null;uniqueIndex:uq_history_entry,priority:2"`
	OccurredAt    time.Time       `gorm:"column:occurred_at;type:timestamptz;not null"`
	ChangeSummary string          `gorm:"column:change_summary;type:text;not null"`
	AddedEntities json.RawMessage `gorm:"column:added_entities;type:jsonb"`
	AddedCVEs     json.RawMessage `gorm:"column:added_cves;type:jsonb"`
	SeverityDelta *float64        `gorm:"column:severity_delta;type:double precision"`
}

func (UpdateHistoryEntry) TableName() string { return "news.update_history" }

// ResolutionEvent maps news.resolution_events, one audit row per processed
// arrival.
type ResolutionEvent struct {
	ResolutionEventID int64           `gorm:"column:resolution_event_id;primaryKey;autoIncrement"`
	RawArrivalID      int64           `gorm:"column:raw_arrival_id;type:bigint;not null;unique"`
	Decision          string          `gorm:"column:decision;type:text;not null"`
	ArticleID         *int64          `gorm:"column:article_id;type:bigint"`
	MatchedArticleID  *int64          `gorm:"column:matched_article_id;type:bigint"`
	TotalScore        *float64        `gorm:"column:total_score;type:double precision"`
	ScoreBreakdown    json.RawMessage `gorm:"column:score_breakdown;type:jsonb"`
	Reasoning         *string         `gorm:"column:reasoning;type:text"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null"`
}

func (ResolutionEvent) TableName() string { return "news.resolution_events" }

func autoMigrateModels() []any {
	return []any{
		&IngestRun{},
		&RawArrival{},
		&Article{},
		&ArticleCVE{},
		&ArticleEntity{},
		&UpdateHistoryEntry{},
		&ResolutionEvent{},
	}
}
