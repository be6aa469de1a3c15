package mongo

import (
	"time"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

type sourceRecord struct {
	ID                string     `bson:"_id"`
	Name              string     `bson:"name"`
	URL               string     `bson:"url"`
	Type              string     `bson:"source_type"`
	Interval          string     `bson:"interval"`
	IsPaused          bool       `bson:"is_paused"`
	IsActive          bool       `bson:"is_active"`
	LastSync          *time.Time `bson:"last_sync"`
	NextSync          time.Time  `bson:"next_sync"`
	TotalDocuments    int64      `bson:"total_documents"`
	LastDocumentCount int        `bson:"last_document_count"`
	SyncErrors        int        `bson:"sync_errors"`
	LastError         *string    `bson:"last_error"`
	Config            string     `bson:"config"`
	Tags              []string   `bson:"tags"`
	Description       string     `bson:"description"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

type documentRecord struct {
	ID          string     `bson:"_id"`
	Title       string     `bson:"title"`
	Link        string     `bson:"link"`
	Description string     `bson:"description"`
	Tags        []string   `bson:"tags"`
	Author      string     `bson:"author"`
	PubDate     *time.Time `bson:"pub_date"`
	SourceID    string     `bson:"source_id"`
	CrawledAt   time.Time  `bson:"crawled_at"`
}

func toSourceRecord(src ingest.Source) (sourceRecord, error) {
	cfg, err := ingest.EncodeConfig(src.Type, src.Config)
	if err != nil {
		return sourceRecord{}, err
	}
	return sourceRecord{
		ID:                src.ID,
		Name:              src.Name,
		URL:               src.URL,
		Type:              string(src.Type),
		Interval:          string(src.Interval),
		IsPaused:          src.IsPaused,
		IsActive:          src.IsActive,
		LastSync:          src.LastSync,
		NextSync:          src.NextSync,
		TotalDocuments:    src.TotalDocuments,
		LastDocumentCount: src.LastDocumentCount,
		SyncErrors:        src.SyncErrors,
		LastError:         src.LastError,
		Config:            string(cfg),
		Tags:              src.Tags,
		Description:       src.Description,
		CreatedAt:         src.CreatedAt,
		UpdatedAt:         src.UpdatedAt,
	}, nil
}

func (r sourceRecord) toSource() (ingest.Source, error) {
	cfg, err := ingest.DecodeConfig([]byte(r.Config))
	if err != nil {
		return ingest.Source{}, err
	}
	return ingest.Source{
		ID:                r.ID,
		Name:              r.Name,
		URL:               r.URL,
		Type:              ingest.SourceType(r.Type),
		Interval:          ingest.Interval(r.Interval),
		IsPaused:          r.IsPaused,
		IsActive:          r.IsActive,
		LastSync:          r.LastSync,
		NextSync:          r.NextSync,
		TotalDocuments:    r.TotalDocuments,
		LastDocumentCount: r.LastDocumentCount,
		SyncErrors:        r.SyncErrors,
		LastError:         r.LastError,
		Config:            cfg,
		Tags:              r.Tags,
		Description:       r.Description,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func toDocumentRecord(doc ingest.Document) documentRecord {
	return documentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Link:        doc.Link,
		Description: doc.Description,
		Tags:        doc.Tags,
		Author:      doc.Author,
		PubDate:     doc.PubDate,
		SourceID:    doc.SourceID,
		CrawledAt:   doc.CrawledAt,
	}
}
