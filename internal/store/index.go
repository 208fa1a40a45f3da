package store

import (
	"context"
	"fmt"

	"github.com/tracelock/tracelock/internal/kv"
)

// indexPageSize bounds how many ids one index page holds.
const indexPageSize = 500

// indexPage is one page of the per-record-kind pagination index. Total
// is the running total of ids through this page, so readers can report
// counts without walking every page.
type indexPage struct {
	Page          int      `json:"page"`
	IDs           []string `json:"ids"`
	Total         int      `json:"total"`
	SchemaVersion int      `json:"schema_version"`
}

func (l *Ledger) indexKey(recordKind string, page int) kv.Key {
	return kv.Key{
		Bucket: fmt.Sprintf("%s:%s:%s:index", domainPrefix, l.tenantID, recordKind),
		ID:     fmt.Sprintf("%06d", page),
	}
}

// readIndexPages loads all index pages for a record kind in order.
func (l *Ledger) readIndexPages(ctx context.Context, recordKind string) ([]indexPage, error) {
	bucket := fmt.Sprintf("%s:%s:%s:index", domainPrefix, l.tenantID, recordKind)
	ids, err := l.kv.ListIDs(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("listing index pages for %s: %w", recordKind, err)
	}
	pages := make([]indexPage, 0, len(ids))
	for _, pageID := range ids {
		var page indexPage
		found, err := l.getRecord(ctx, kv.Key{Bucket: bucket, ID: pageID}, &page)
		if err != nil {
			return nil, err
		}
		if found {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// indexIDs returns every indexed id for a record kind in append order.
func (l *Ledger) indexIDs(ctx context.Context, recordKind string) ([]string, error) {
	pages, err := l.readIndexPages(ctx, recordKind)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, page := range pages {
		ids = append(ids, page.IDs...)
	}
	return ids, nil
}

// appendIndex records a newly written id so listing can enumerate it.
func (l *Ledger) appendIndex(ctx context.Context, recordKind, id string) error {
	pages, err := l.readIndexPages(ctx, recordKind)
	if err != nil {
		return err
	}

	var last indexPage
	runningTotal := 0
	if len(pages) == 0 {
		last = indexPage{Page: 0, SchemaVersion: 1}
	} else {
		last = pages[len(pages)-1]
		runningTotal = last.Total - len(last.IDs)
		if len(last.IDs) >= indexPageSize {
			runningTotal = last.Total
			last = indexPage{Page: last.Page + 1, SchemaVersion: 1}
		}
	}

	last.IDs = append(last.IDs, id)
	last.Total = runningTotal + len(last.IDs)
	return l.putRecord(ctx, l.indexKey(recordKind, last.Page), &last, nil)
}

// removeFromIndex drops an id from whichever page holds it and rewrites
// the running totals of that page and every page after it.
func (l *Ledger) removeFromIndex(ctx context.Context, recordKind, id string) error {
	pages, err := l.readIndexPages(ctx, recordKind)
	if err != nil {
		return err
	}

	hit := -1
	for pi := range pages {
		for ii, existing := range pages[pi].IDs {
			if existing == id {
				pages[pi].IDs = append(pages[pi].IDs[:ii], pages[pi].IDs[ii+1:]...)
				hit = pi
				break
			}
		}
		if hit >= 0 {
			break
		}
	}
	if hit < 0 {
		return nil
	}

	runningTotal := 0
	if hit > 0 {
		runningTotal = pages[hit-1].Total
	}
	for pi := hit; pi < len(pages); pi++ {
		runningTotal += len(pages[pi].IDs)
		pages[pi].Total = runningTotal
		if err := l.putRecord(ctx, l.indexKey(recordKind, pages[pi].Page), &pages[pi], nil); err != nil {
			return err
		}
	}
	return nil
}

// RecordTotals reports the number of indexed records per kind. It reads
// only the index pages, never the record bodies.
func (l *Ledger) RecordTotals(ctx context.Context) (map[string]int, error) {
	totals := make(map[string]int)
	for _, recordKind := range []string{kindSnapshot, kindRun, kindDrift, kindEvidence} {
		n, err := l.indexTotal(ctx, recordKind)
		if err != nil {
			return nil, err
		}
		totals[recordKind] = n
	}
	return totals, nil
}

// indexTotal returns the running total from the last index page.
func (l *Ledger) indexTotal(ctx context.Context, recordKind string) (int, error) {
	pages, err := l.readIndexPages(ctx, recordKind)
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, nil
	}
	return pages[len(pages)-1].Total, nil
}

// pageSlice applies (page, pageSize) pagination to an id list. Pages are
// 1-based; a pageSize of 0 falls back to 50.
func pageSlice(ids []string, page, pageSize int) []string {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(ids) {
		return nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}
