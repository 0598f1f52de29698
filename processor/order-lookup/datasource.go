package orderlookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/c360studio/storechat/peer"
	"github.com/c360studio/storechat/postprocess"
)

// DataSource fetches order rows from the data API.
type DataSource interface {
	Fetch(ctx context.Context, path string, query url.Values) (postprocess.RecordSet, error)
}

// Getter is the part of peer.Client the data source uses.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values) peer.Outcome
}

// HTTPDataSource reads rows over HTTP through a resilient peer client.
type HTTPDataSource struct {
	client Getter
}

// NewHTTPDataSource creates a data source backed by client.
func NewHTTPDataSource(client Getter) *HTTPDataSource {
	return &HTTPDataSource{client: client}
}

// Fetch implements DataSource. The failure of the peer call is returned
// as-is (a *peer.Failure).
func (d *HTTPDataSource) Fetch(ctx context.Context, path string, query url.Values) (postprocess.RecordSet, error) {
	out := d.client.Get(ctx, path, query)
	if !out.OK() {
		return nil, out.Err()
	}
	return decodeRecords(out.Payload)
}

// decodeRecords accepts a JSON array of objects or a single object (the
// aggregate endpoints). Scalars inside an array become {"value": v}.
func decodeRecords(payload json.RawMessage) (postprocess.RecordSet, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var rec postprocess.Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if len(rec) == 0 {
			return nil, nil
		}
		return postprocess.RecordSet{rec}, nil
	}

	var items []any
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	records := make(postprocess.RecordSet, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			records = append(records, postprocess.Record(v))
		case nil:
		default:
			records = append(records, postprocess.Record{"value": v})
		}
	}
	return records, nil
}
