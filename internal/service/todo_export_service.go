package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/export"
)

// Supported todo export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var todoExportHeaders = []string{"Course", "Class", "Student", "Topic", "Coursework", "Due", "Turned in", "Late", "Grade"}

var todoExportWidths = []float64{3, 1.2, 3, 2.2, 4, 1.6, 2.4, 0.8, 1.2}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// TodoExport is a rendered todo document ready to download.
type TodoExport struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// TodoExportService renders todo groups through the export renderers.
type TodoExportService struct {
	csv csvRenderer
	pdf pdfRenderer
	now func() time.Time
}

// NewTodoExportService constructs a TodoExportService. Nil renderers fall back
// to the default exporters.
func NewTodoExportService(csv csvRenderer, pdf pdfRenderer) *TodoExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &TodoExportService{csv: csv, pdf: pdf, now: time.Now}
}

// Render builds the document for groups in the requested format.
func (s *TodoExportService) Render(groups []models.TodoGroup, format string) (*TodoExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	dataset := BuildTodoDataset(groups)
	stamp := s.now().UTC().Format("20060102-150405")

	var (
		body        []byte
		err         error
		contentType string
	)
	switch format {
	case ExportFormatCSV:
		body, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	case ExportFormatPDF:
		body, err = s.pdf.Render(dataset, fmt.Sprintf("Pending submissions (%d)", len(dataset.Rows)))
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render todo export")
	}

	return &TodoExport{
		Filename:    fmt.Sprintf("todo-%s.%s", stamp, format),
		ContentType: contentType,
		Body:        body,
		Rows:        len(dataset.Rows),
	}, nil
}

// BuildTodoDataset flattens groups into one row per todo item, keeping group
// and item order.
func BuildTodoDataset(groups []models.TodoGroup) export.Dataset {
	rows := make([]map[string]string, 0)
	for _, group := range groups {
		for _, item := range group.Items {
			rows = append(rows, map[string]string{
				"Course":     group.CourseName,
				"Class":      derefString(item.StudentClassName),
				"Student":    item.StudentName,
				"Topic":      item.TopicName,
				"Coursework": item.CourseworkTitle,
				"Due":        formatDue(item.DueDate),
				"Turned in":  item.UpdateTime.UTC().Format("2006-01-02 15:04"),
				"Late":       formatLate(item.Late),
				"Grade":      formatGrade(item.AssignedGrade, item.MaxPoints),
			})
		}
	}
	return export.Dataset{Headers: todoExportHeaders, Rows: rows, Widths: todoExportWidths}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatDue(due *models.Date) string {
	if due == nil {
		return ""
	}
	return due.String()
}

func formatLate(late bool) string {
	if late {
		return "yes"
	}
	return ""
}

func formatGrade(grade, max *float64) string {
	if grade == nil {
		return ""
	}
	value := strconv.FormatFloat(*grade, 'f', -1, 64)
	if max != nil {
		value += "/" + strconv.FormatFloat(*max, 'f', -1, 64)
	}
	return value
}
