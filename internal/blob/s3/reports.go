package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// reportPrefix is where financial reports are stored, one object per run.
const reportPrefix = "reports/financial/"

// ReportArchiver implements domain.ReportArchiver on top of any blob store.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewReportArchiver creates a ReportArchiver. reader may be nil when reports
// are only written.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader) *ReportArchiver {
	return &ReportArchiver{writer: writer, reader: reader}
}

// reportPath keys reports by the end of their window so they sort in time
// order: reports/financial/2026/10/16/20261016T030000Z.json.
func reportPath(r domain.FinancialReport) string {
	to := r.To.UTC()
	return fmt.Sprintf("%s%s/%s.json", reportPrefix, to.Format("2006/01/02"), to.Format("20060102T150405Z"))
}

// ArchiveReport uploads r as JSON and returns its path.
func (a *ReportArchiver) ArchiveReport(ctx context.Context, r domain.FinancialReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report: %w", err)
	}
	path := reportPath(r)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report: %w", err)
	}
	return path, nil
}

// ListReports returns archived report paths, newest first.
func (a *ReportArchiver) ListReports(ctx context.Context, limit int) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, nil
	}
	infos, err := a.reader.List(ctx, reportPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list reports: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// GetReport reads back one archived report.
func (a *ReportArchiver) GetReport(ctx context.Context, path string) (domain.FinancialReport, error) {
	if a.reader == nil || !strings.HasPrefix(path, reportPrefix) {
		return domain.FinancialReport{}, fmt.Errorf("s3blob: report %s: %w", path, domain.ErrNotFound)
	}
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.FinancialReport{}, err
	}
	defer body.Close()

	var r domain.FinancialReport
	if err := json.NewDecoder(body).Decode(&r); err != nil {
		return domain.FinancialReport{}, fmt.Errorf("s3blob: decode report %s: %w", path, err)
	}
	return r, nil
}

var _ domain.ReportArchiver = (*ReportArchiver)(nil)
