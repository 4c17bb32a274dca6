package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
	"github.com/noah-isme/classroom-sync-api/pkg/export"
)

type failingPDF struct{}

func (failingPDF) Render(export.Dataset, string) ([]byte, error) {
	return nil, errors.New("font missing")
}

func exportGroups() []models.TodoGroup {
	return []models.TodoGroup{
		{CourseID: "c1", CourseName: "Biology", Items: []models.TodoItem{
			{SubmissionID: "s1", StudentName: "Ana", StudentClassName: strPtr("7A"), TopicName: "Cells", CourseworkTitle: "Lab 1",
				DueDate: &models.Date{Year: 2024, Month: 3, Day: 9}, UpdateTime: time.Date(2024, 3, 8, 10, 30, 0, 0, time.UTC),
				AssignedGrade: floatPtr(8.5), MaxPoints: floatPtr(10), Late: true},
			{SubmissionID: "s2", StudentName: "Ben", TopicName: models.UncategorizedTopic, CourseworkTitle: "Essay"},
		}},
		{CourseID: "c2", CourseName: "Chemistry", Items: []models.TodoItem{
			{SubmissionID: "s3", StudentName: "Cai", CourseworkTitle: "Quiz", MaxPoints: floatPtr(20)},
		}},
	}
}

func TestBuildTodoDatasetKeepsOrder(t *testing.T) {
	dataset := BuildTodoDataset(exportGroups())

	require.Len(t, dataset.Rows, 3)
	first := dataset.Rows[0]
	assert.Equal(t, "Biology", first["Course"])
	assert.Equal(t, "7A", first["Class"])
	assert.Equal(t, "2024-03-09", first["Due"])
	assert.Equal(t, "2024-03-08 10:30", first["Turned in"])
	assert.Equal(t, "yes", first["Late"])
	assert.Equal(t, "8.5/10", first["Grade"])
	assert.Equal(t, "", dataset.Rows[2]["Grade"])
	assert.Equal(t, "Chemistry", dataset.Rows[2]["Course"])
}

func TestTodoExportServiceRender(t *testing.T) {
	svc := NewTodoExportService(nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC) }

	csvDoc, err := svc.Render(exportGroups(), "")
	require.NoError(t, err)
	assert.Equal(t, "todo-20240310-080000.csv", csvDoc.Filename)
	assert.Equal(t, 3, csvDoc.Rows)
	assert.True(t, strings.Contains(string(csvDoc.Body), "Lab 1"))

	pdfDoc, err := svc.Render(exportGroups(), "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfDoc.ContentType)

	empty, err := svc.Render(nil, "csv")
	require.NoError(t, err)
	assert.Zero(t, empty.Rows)
}

func TestTodoExportServiceErrors(t *testing.T) {
	svc := NewTodoExportService(nil, failingPDF{})

	_, err := svc.Render(exportGroups(), "xlsx")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Render(exportGroups(), "pdf")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
