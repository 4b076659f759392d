package catalog

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/poiesic/recall/core"
)

// SchemaVersion is the manifest version written by this package.
//
// Version history:
//
//	0: per-type item list name (images, drawings, audio, notes,
//	   pdfs_processed), optional counters, naive timestamps.
//	1: canonical "items" list, RFC 3339 timestamps.
//	2: content_type, total_items and total_chunks always present;
//	   every item carries a content_id.
const SchemaVersion = 2

// legacyItemKeys are the item list names used before version 1.
var legacyItemKeys = []string{"images", "drawings", "audio", "notes", "pdfs_processed"}

// legacyCounterKeys were replaced by total_items.
var legacyCounterKeys = []string{"total_pdfs", "total_images", "total_drawings", "total_notes", "total_audio"}

// naiveLayouts are accepted for timestamps written without a zone. They
// are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type document map[string]json.RawMessage

type migration struct {
	from  int
	apply func(doc document, t core.ContentType) error
}

// migrations run in order; each moves a document from version `from` to
// from+1.
var migrations = []migration{
	{from: 0, apply: canonicalizeItems},
	{from: 1, apply: backfillRequired},
}

// decode reads a manifest of any known version and returns it at
// SchemaVersion. Unknown future versions are rejected.
func decode(data []byte, t core.ContentType) (*Summary, bool, error) {
	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("%w: %s manifest: %w", ErrCorrupt, t, err)
	}

	version := 0
	if raw, ok := doc["schema_version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return nil, false, fmt.Errorf("%w: schema_version: %w", ErrCorrupt, err)
		}
	}
	if version > SchemaVersion {
		return nil, false, fmt.Errorf("%w: %s manifest version %d", ErrUnsupportedVersion, t, version)
	}

	migrated := version < SchemaVersion
	for _, m := range migrations {
		if m.from < version {
			continue
		}
		if err := m.apply(doc, t); err != nil {
			return nil, false, fmt.Errorf("%w: migrate %s manifest from v%d: %w", ErrCorrupt, t, m.from, err)
		}
		version = m.from + 1
	}
	doc["schema_version"], _ = json.Marshal(SchemaVersion)

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	var s Summary
	if err := json.Unmarshal(normalized, &s); err != nil {
		return nil, false, fmt.Errorf("%w: %s manifest: %w", ErrCorrupt, t, err)
	}
	if s.ContentType != t {
		return nil, false, fmt.Errorf("%w: manifest for %s found under %s", ErrCorrupt, s.ContentType, t)
	}
	s.recount()
	return &s, migrated, nil
}

// canonicalizeItems renames the legacy item list to "items" and rewrites
// naive timestamps as RFC 3339.
func canonicalizeItems(doc document, _ core.ContentType) error {
	if _, ok := doc["items"]; !ok {
		for _, key := range legacyItemKeys {
			if raw, ok := doc[key]; ok {
				doc["items"] = raw
				delete(doc, key)
				break
			}
		}
	}
	for _, key := range legacyCounterKeys {
		delete(doc, key)
	}

	raw, ok := doc["items"]
	if !ok || string(raw) == "null" {
		doc["items"] = json.RawMessage("[]")
		return nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	for _, item := range items {
		s, ok := item["created_at"].(string)
		if !ok {
			delete(item, "created_at")
			continue
		}
		if ts, ok := parseTimestamp(s); ok {
			item["created_at"] = ts.Format(time.RFC3339Nano)
		} else {
			delete(item, "created_at")
		}
	}
	out, err := json.Marshal(items)
	if err != nil {
		return err
	}
	doc["items"] = out
	return nil
}

// backfillRequired fills fields that older writers left out.
func backfillRequired(doc document, t core.ContentType) error {
	if _, ok := doc["content_type"]; !ok {
		doc["content_type"], _ = json.Marshal(t)
	}
	for _, key := range []string{"total_items", "total_chunks"} {
		if _, ok := doc[key]; !ok {
			doc[key] = json.RawMessage("0")
		}
	}

	var items []map[string]any
	if err := json.Unmarshal(doc["items"], &items); err != nil {
		return err
	}
	for _, item := range items {
		if id, _ := item["content_id"].(string); id != "" {
			continue
		}
		filename, _ := item["filename"].(string)
		if filename == "" {
			return fmt.Errorf("item without content_id or filename")
		}
		item["content_id"] = legacyContentID(t, filename)
	}
	out, err := json.Marshal(items)
	if err != nil {
		return err
	}
	doc["items"] = out
	return nil
}

// legacyContentID derives a stable identifier for items recorded before
// content IDs existed.
func legacyContentID(t core.ContentType, filename string) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	return fmt.Sprintf("%s_%s", t, core.Slugify(base))
}

func parseTimestamp(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
