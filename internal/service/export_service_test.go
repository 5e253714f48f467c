package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/export"
)

type stubRollupProvider struct {
	resp  *dto.DashboardResponse
	err   error
	query dto.DashboardQuery
}

func (s *stubRollupProvider) Rollup(ctx context.Context, teacherID string, query dto.DashboardQuery) (*dto.DashboardResponse, bool, error) {
	s.query = query
	return s.resp, false, s.err
}

type capturingPDF struct {
	data     export.Dataset
	title    string
	subtitle string
}

func (c *capturingPDF) Render(data export.Dataset, title, subtitle string) ([]byte, error) {
	c.data, c.title, c.subtitle = data, title, subtitle
	return []byte("%PDF-stub"), nil
}

type failingCSV struct{}

func (failingCSV) Render(export.Dataset) ([]byte, error) { return nil, errors.New("disk full") }

func sampleDashboard() *dto.DashboardResponse {
	root := aggregateRollup(sampleRollupInput())
	start, end := "2024-03-01", "2024-03-31"
	root.StartDate, root.EndDate = &start, &end
	return &dto.DashboardResponse{HasLevels: true, Dashboard: root}
}

func TestExportServiceDashboardCSV(t *testing.T) {
	provider := &stubRollupProvider{resp: sampleDashboard()}
	svc := NewExportService(provider, nil, nil, nil, nil)

	file, err := svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{
		DashboardQuery: dto.DashboardQuery{StartDate: "2024-03-01", EndDate: "2024-03-31"},
		Format:         dto.ExportFormatCSV,
	})
	require.NoError(t, err)
	assert.Equal(t, "dashboard_2024-03-01_2024-03-31.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "2024-03-01", provider.query.StartDate)

	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	assert.Equal(t, "Level,Section,Subject,Paid,Unpaid,Active Students", lines[0])
	assert.Equal(t, "Level l1,,,50.00,10.00,2", lines[1])
	assert.Equal(t, "Level l1,,Subject art,15.00,0.00,1", lines[2])
	assert.Equal(t, "Level l1,Section s1,,35.00,10.00,2", lines[3])
	assert.Equal(t, "Total,,,70.00,10.00,3", lines[len(lines)-1])
}

func TestExportServiceDashboardPDF(t *testing.T) {
	pdf := &capturingPDF{}
	svc := NewExportService(&stubRollupProvider{resp: sampleDashboard()}, nil, nil, nil, pdf)

	file, err := svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{Format: dto.ExportFormatPDF})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, "dashboard_2024-03-01_2024-03-31.pdf", file.Filename)
	assert.Equal(t, "Period: 2024-03-01 to 2024-03-31", pdf.subtitle)
	assert.True(t, pdf.data.Numeric[colPaid])
	assert.Len(t, pdf.data.Rows, 8)
}

func TestExportServiceDashboardWithoutLevels(t *testing.T) {
	svc := NewExportService(&stubRollupProvider{resp: &dto.DashboardResponse{}}, nil, nil, nil, nil)

	file, err := svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{Format: dto.ExportFormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "dashboard_all_all.csv", file.Filename)
	assert.Equal(t, "Level,Section,Subject,Paid,Unpaid,Active Students\n", string(file.Body))
}

func TestExportServiceDashboardErrors(t *testing.T) {
	svc := NewExportService(&stubRollupProvider{resp: sampleDashboard()}, nil, nil, nil, nil)
	_, err := svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{Format: "xlsx"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	svc = NewExportService(&stubRollupProvider{err: appErrors.ErrPriceNotConfigured}, nil, nil, nil, nil)
	_, err = svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{Format: dto.ExportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrPriceNotConfigured)

	svc = NewExportService(&stubRollupProvider{resp: sampleDashboard()}, nil, nil, failingCSV{}, nil)
	_, err = svc.Dashboard(context.Background(), "t1", dto.DashboardExportQuery{Format: dto.ExportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
