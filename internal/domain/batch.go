package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	BatchStatusCreated    = "created"
	BatchStatusQueued     = "queued"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"

	ItemStatusPending     = "pending"
	ItemStatusOptimized   = "optimized"
	ItemStatusPassthrough = "passthrough"
	ItemStatusFailed      = "failed"
)

type CreateBatchRequest struct {
	SourceURLs []string `json:"source_urls"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

func (r CreateBatchRequest) Validate() error {
	if len(r.SourceURLs) == 0 {
		return errors.New("source_urls must contain at least one URL")
	}
	for i, raw := range r.SourceURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("source_urls[%d] is not a valid URL: %v", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source_urls[%d] must use http or https", i)
		}
		if u.Host == "" {
			return fmt.Errorf("source_urls[%d] is missing a host", i)
		}
	}
	return nil
}

type BatchItem struct {
	Index         int         `json:"index"`
	SourceURL     string      `json:"source_url"`
	Status        string      `json:"status"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	ObjectKey     string      `json:"object_key,omitempty"`
	ContentType   string      `json:"content_type,omitempty"`
	OriginalSize  int         `json:"original_size,omitempty"`
	OptimizedSize int         `json:"optimized_size,omitempty"`
}

type BatchJob struct {
	ID         string
	Status     string
	WebhookURL string
	Items      []BatchItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Done reports whether every item has reached a terminal status.
func (b BatchJob) Done() bool {
	for _, item := range b.Items {
		if item.Status == ItemStatusPending || item.Status == "" {
			return false
		}
	}
	return len(b.Items) > 0
}
