package dto

import "github.com/shopspring/decimal"

// Rollup presets accepted by the dashboard.
const (
	PresetThisWeek  = "this_week"
	PresetThisMonth = "this_month"
	PresetThisYear  = "this_year"
)

// DashboardQuery carries the rollup window. Explicit dates and a preset are mutually exclusive.
type DashboardQuery struct {
	StartDate string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Preset    string `form:"preset" validate:"omitempty,oneof=this_week this_month this_year"`
}

// RollupTotals are the figures reported at every level of the tree.
type RollupTotals struct {
	TotalPaidAmount     decimal.Decimal `json:"total_paid_amount"`
	TotalUnpaidAmount   decimal.Decimal `json:"total_unpaid_amount"`
	TotalActiveStudents int             `json:"total_active_students"`
}

// SubjectRollup is a leaf of the rollup tree.
type SubjectRollup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RollupTotals
}

// SectionRollup groups subjects taught in one section of a level.
type SectionRollup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RollupTotals
	Subjects []SubjectRollup `json:"subjects"`
}

// LevelRollup groups sections and section-less subjects of one level.
type LevelRollup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RollupTotals
	Sections []SectionRollup `json:"sections"`
	Subjects []SubjectRollup `json:"subjects"`
}

// DashboardRollup is the grand total with its level breakdown.
type DashboardRollup struct {
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	RollupTotals
	Levels []LevelRollup `json:"levels"`
}

// DashboardResponse is the payload of the teacher dashboard.
type DashboardResponse struct {
	HasLevels bool             `json:"has_levels"`
	Dashboard *DashboardRollup `json:"dashboard,omitempty"`
}

// Export formats of the dashboard download.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// DashboardExportQuery selects the rollup window and the download format.
type DashboardExportQuery struct {
	DashboardQuery
	Format string `form:"format" validate:"required,oneof=csv pdf"`
}
