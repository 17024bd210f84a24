package audit

import (
	"context"
	"encoding/json"
	"time"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Filter narrows a query against the decrypted fields.
type Filter struct {
	UserID string
	Action string
	From   *time.Time
	To     *time.Time
}

// Record is one decrypted listing row. When an entry cannot be decrypted the
// row carries ParseError instead of payload fields; the entry is reported,
// not dropped.
type Record struct {
	ID         string         `json:"id"`
	UserID     *string        `json:"userId,omitempty"`
	Action     string         `json:"action,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ParseError string         `json:"parseError,omitempty"`
}

// Page is a 1-indexed slice of the filtered listing.
type Page struct {
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
	Data       []Record `json:"data"`
}

// Query decrypts all entries newest-first, filters on the decrypted fields
// and paginates. A decryption failure on one entry yields a placeholder for
// that entry only. Page and limit values below 1 are clamped to defaults;
// total counts post-filter matches and totalPages is never below 1.
func (t *Trail) Query(ctx context.Context, f Filter, page, limit int) (Page, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}

	entries, err := t.store.ListAll(ctx)
	if err != nil {
		return Page{}, err
	}

	filtered := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := t.decryptEntry(e)
		if matches(rec, f) {
			filtered = append(filtered, rec)
		}
	}

	total := len(filtered)
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return Page{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		Data:       filtered[start:end],
	}, nil
}

func (t *Trail) decryptEntry(e *Entry) Record {
	rec := Record{ID: e.ID, CreatedAt: e.CreatedAt}
	plaintext, err := t.cipher.Decrypt(e.IV, e.Ciphertext)
	if err != nil {
		rec.ParseError = "failed to decrypt log payload"
		return rec
	}
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		rec.ParseError = "failed to decode log payload"
		return rec
	}
	rec.UserID = p.UserID
	rec.Action = p.Action
	rec.Details = p.Details
	ts := p.Timestamp
	rec.Timestamp = &ts
	return rec
}

// matches applies the filter. Placeholder rows match only when no payload
// filter is set, so corrupted entries still show up in unfiltered listings.
func matches(rec Record, f Filter) bool {
	if f.UserID != "" {
		if rec.UserID == nil || *rec.UserID != f.UserID {
			return false
		}
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.From != nil {
		if rec.Timestamp == nil || rec.Timestamp.Before(*f.From) {
			return false
		}
	}
	if f.To != nil {
		if rec.Timestamp == nil || rec.Timestamp.After(*f.To) {
			return false
		}
	}
	return true
}
