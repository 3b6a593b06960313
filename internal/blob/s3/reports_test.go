package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

type memBlobs map[string][]byte

func (m memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m[path] = b
	return nil
}

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func TestReportArchiverRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := memBlobs{}
	a := NewReportArchiver(blobs, blobs)

	day := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		to := day.AddDate(0, 0, i)
		r := domain.FinancialReport{From: to.Add(-24 * time.Hour), To: to, Orders: i + 1, RoutingFees: 42}
		if _, err := a.ArchiveReport(ctx, r); err != nil {
			t.Fatalf("ArchiveReport: %v", err)
		}
	}

	infos, err := a.ListReports(ctx, 2)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
	if want := "reports/financial/2026/10/18/20261018T030000Z.json"; infos[0].Path != want {
		t.Errorf("newest = %s, want %s", infos[0].Path, want)
	}

	got, err := a.GetReport(ctx, infos[0].Path)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Orders != 3 || got.RoutingFees != 42 {
		t.Errorf("report = %+v", got)
	}

	if _, err := a.GetReport(ctx, "secrets/other.json"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign path err = %v, want ErrNotFound", err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := map[string]struct {
		endpoint string
		ssl      bool
		want     string
	}{
		"keeps scheme": {"http://minio:9000", true, "http://minio:9000"},
		"adds https":   {"e2.example.com", true, "https://e2.example.com"},
		"adds http":    {"minio:9000", false, "http://minio:9000"},
	}
	for name, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("%s: got %q, want %q", name, got, tt.want)
		}
	}
}
