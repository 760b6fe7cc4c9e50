package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

const pathTimeFmt = "20060102T150405Z"

// Document is the exported form of one queried series.
type Document struct {
	Collector  string      `json:"collector"`
	Keyword    string      `json:"keyword"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	ExportedAt time.Time   `json:"exported_at"`
	Rows       []RowRecord `json:"rows"`
}

// RowRecord is one exported sample.
type RowRecord struct {
	Time    time.Time      `json:"time"`
	Value   float64        `json:"value"`
	ID      string         `json:"id,omitempty"`
	Partial bool           `json:"partial,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Exporter writes query results to a Storage backend.
type Exporter struct {
	storage Storage
	logger  *zap.Logger
	now     func() time.Time
}

// NewExporter creates an exporter over storage.
func NewExporter(storage Storage, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		storage: storage,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Path returns <collector>/<keyword>/<start>_<end>.json for a series.
func Path(collector, keyword string, iv core.TimeInterval) string {
	name := iv.Start.UTC().Format(pathTimeFmt) + "_" + iv.End.UTC().Format(pathTimeFmt) + ".json"
	return path.Join(pathSegment(collector), pathSegment(keyword), name)
}

// pathSegment keeps a name to one path element.
func pathSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(core.NormalizeKeyword(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Export writes rows as a JSON document and returns its path.
func (e *Exporter) Export(ctx context.Context, collector, keyword string, iv core.TimeInterval, rows []core.SampleRow) (string, error) {
	doc := Document{
		Collector:  collector,
		Keyword:    keyword,
		Start:      iv.Start.UTC(),
		End:        iv.End.UTC(),
		ExportedAt: e.now(),
		Rows:       make([]RowRecord, len(rows)),
	}
	for i, r := range rows {
		doc.Rows[i] = RowRecord{
			Time:    r.Time.UTC(),
			Value:   r.Value,
			ID:      r.ID,
			Partial: r.Partial,
			Fields:  r.Fields,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", core.WrapError(core.ErrStoreFailed, fmt.Errorf("encoding export: %w", err))
	}

	p := Path(collector, keyword, iv)
	if err := e.storage.Write(ctx, p, data); err != nil {
		return "", fmt.Errorf("writing export %s: %w", p, err)
	}

	e.logger.Info("Exported series",
		zap.String("collector", collector),
		zap.String("keyword", keyword),
		zap.String("path", p),
		zap.Int("rows", len(rows)),
	)
	return p, nil
}

// Load reads back an exported document.
func (e *Exporter) Load(ctx context.Context, p string) (*Document, error) {
	data, err := e.storage.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, fmt.Errorf("decoding %s: %w", p, err))
	}
	return &doc, nil
}

// List returns the exports of one series.
func (e *Exporter) List(ctx context.Context, collector, keyword string) ([]string, error) {
	return e.storage.List(ctx, path.Join(pathSegment(collector), pathSegment(keyword)))
}
