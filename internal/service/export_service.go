package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/export"
	"github.com/noah-isme/tutoring-ledger-api/pkg/logger"
)

type rollupProvider interface {
	Rollup(ctx context.Context, teacherID string, query dto.DashboardQuery) (*dto.DashboardResponse, bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// Export table columns.
const (
	colLevel    = "Level"
	colSection  = "Section"
	colSubject  = "Subject"
	colPaid     = "Paid"
	colUnpaid   = "Unpaid"
	colStudents = "Active Students"
)

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders the dashboard rollup as a flat table.
type ExportService struct {
	dashboard rollupProvider
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(dashboard rollupProvider, validate *validator.Validate, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{dashboard: dashboard, csv: csv, pdf: pdf, validator: validate, logger: logger}
}

// Dashboard renders the teacher's rollup for the requested window and format.
func (s *ExportService) Dashboard(ctx context.Context, teacherID string, query dto.DashboardExportQuery) (*ExportFile, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	resp, _, err := s.dashboard.Rollup(ctx, teacherID, query.DashboardQuery)
	if err != nil {
		return nil, err
	}

	dataset := rollupDataset(resp)
	var rollup *dto.DashboardRollup
	if resp != nil {
		rollup = resp.Dashboard
	}
	base := "dashboard_" + windowLabel(rollup, "_")

	file := &ExportFile{}
	switch query.Format {
	case dto.ExportFormatCSV:
		file.Filename, file.ContentType = base+".csv", "text/csv"
		file.Body, err = s.csv.Render(dataset)
	case dto.ExportFormatPDF:
		file.Filename, file.ContentType = base+".pdf", "application/pdf"
		file.Body, err = s.pdf.Render(dataset, "Teaching Dashboard", "Period: "+windowLabel(rollup, " to "))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", query.Format))
	}
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("render dashboard export failed",
			zap.String(logger.FieldTeacherID, teacherID),
			zap.String("format", query.Format),
			zap.Error(err),
		)
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return file, nil
}

// rollupDataset flattens the tree depth-first: each level row is followed by its
// section-less subjects, then each section with its subjects. A grand total closes the table.
func rollupDataset(resp *dto.DashboardResponse) export.Dataset {
	data := export.Dataset{
		Headers: []string{colLevel, colSection, colSubject, colPaid, colUnpaid, colStudents},
		Rows:    []map[string]string{},
		Numeric: map[string]bool{colPaid: true, colUnpaid: true, colStudents: true},
	}
	if resp == nil || !resp.HasLevels || resp.Dashboard == nil {
		return data
	}
	for _, level := range resp.Dashboard.Levels {
		data.Rows = append(data.Rows, totalsRow(level.RollupTotals, level.Name, "", ""))
		for _, subject := range level.Subjects {
			data.Rows = append(data.Rows, totalsRow(subject.RollupTotals, level.Name, "", subject.Name))
		}
		for _, section := range level.Sections {
			data.Rows = append(data.Rows, totalsRow(section.RollupTotals, level.Name, section.Name, ""))
			for _, subject := range section.Subjects {
				data.Rows = append(data.Rows, totalsRow(subject.RollupTotals, level.Name, section.Name, subject.Name))
			}
		}
	}
	data.Rows = append(data.Rows, totalsRow(resp.Dashboard.RollupTotals, "Total", "", ""))
	return data
}

func totalsRow(t dto.RollupTotals, level, section, subject string) map[string]string {
	return map[string]string{
		colLevel:    level,
		colSection:  section,
		colSubject:  subject,
		colPaid:     t.TotalPaidAmount.StringFixed(2),
		colUnpaid:   t.TotalUnpaidAmount.StringFixed(2),
		colStudents: strconv.Itoa(t.TotalActiveStudents),
	}
}

func windowLabel(rollup *dto.DashboardRollup, sep string) string {
	start, end := "all", "all"
	if rollup != nil {
		if rollup.StartDate != nil {
			start = *rollup.StartDate
		}
		if rollup.EndDate != nil {
			end = *rollup.EndDate
		}
	}
	return start + sep + end
}
