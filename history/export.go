package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// Search returns records whose title contains keyword, case-insensitively.
// An empty keyword returns everything.
func (s *Store) Search(ctx context.Context, keyword string) ([]Record, error) {
	recs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return recs, nil
	}
	var out []Record
	for _, r := range recs {
		if strings.Contains(strings.ToLower(r.Title), keyword) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Export writes the full list as indented JSON. It returns the number of
// records written.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	recs, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("history: export: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("history: export: %w", err)
	}
	return len(recs), nil
}

// ExportFilename is the download name for an export made at now.
func ExportFilename(now time.Time) string {
	return "gemini_history_" + now.Format("2006-01-02") + ".json"
}

// Import merges an exported list back into the store. Hand-edited files are
// repaired before decoding. For a url present on both sides the record with
// the newer LastSeen wins, and a local rename is kept. IsRenamed in the file
// is ignored: only Rename sets it.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("history: import: read: %w", err)
	}

	var incoming []Record
	if err := json.Unmarshal(raw, &incoming); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(raw))
		if rerr != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := json.Unmarshal([]byte(repaired), &incoming); err != nil {
			return 0, fmt.Errorf("%w: repaired: %v", ErrMalformed, err)
		}
		s.logger.WarnContext(ctx, "history: import needed repair", "bytes", len(raw))
	}

	recs, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, in := range incoming {
		if in.URL == "" {
			continue
		}
		in.IsRenamed = false
		i := indexOf(recs, in.URL)
		if i < 0 {
			recs = append(recs, in)
			merged++
			continue
		}
		cur := recs[i]
		next := cur
		if in.LastSeen > cur.LastSeen {
			next = in
		}
		if cur.IsRenamed {
			next.Title, next.IsRenamed = cur.Title, true
		}
		if next != cur {
			recs[i] = next
			merged++
		}
	}

	if merged == 0 {
		return 0, nil
	}
	if err := s.save(ctx, recs); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "history: imported", "records", merged)
	return merged, nil
}
