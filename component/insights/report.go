// Package insights compares the number of resources a patient has on the source and destination EHR.
package insights

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName        = "Resource counts"
	sourceLabel      = "OpenEMR (source)"
	destinationLabel = "Primary FHIR (after ETL)"
	chartTitle       = "Resources for one patient: source vs after ETL"
)

// ResourceTypes are the resource types that are counted.
var ResourceTypes = []string{"Condition", "Observation", "Procedure"}

// Counter counts the resources matching a search.
type Counter interface {
	Count(ctx context.Context, resourceType string, filters url.Values) (int, error)
}

type Count struct {
	ResourceType string
	Source       int
	Destination  int
}

type Report struct {
	Counts []Count
}

// Collect counts, per resource type, the resources of the patient on the source EHR and of its counterpart on the destination EHR.
func Collect(ctx context.Context, source Counter, sourcePatientID string, destination Counter, destinationPatientID string) (*Report, error) {
	report := &Report{}
	for _, resourceType := range ResourceTypes {
		sourceCount, err := count(ctx, source, resourceType, sourcePatientID)
		if err != nil {
			return nil, fmt.Errorf("count %s on source: %w", resourceType, err)
		}
		destinationCount, err := count(ctx, destination, resourceType, destinationPatientID)
		if err != nil {
			return nil, fmt.Errorf("count %s on destination: %w", resourceType, err)
		}
		log.Ctx(ctx).Info().Msgf("%s: %d on source, %d on destination", resourceType, sourceCount, destinationCount)
		report.Counts = append(report.Counts, Count{
			ResourceType: resourceType,
			Source:       sourceCount,
			Destination:  destinationCount,
		})
	}
	return report, nil
}

func count(ctx context.Context, counter Counter, resourceType string, patientID string) (int, error) {
	if patientID == "" {
		return 0, errors.New("patient id is required")
	}
	result, err := counter.Count(ctx, resourceType, url.Values{"patient": {patientID}})
	if errors.Is(err, fhirapi.ErrNotFound) {
		return 0, nil
	}
	return result, err
}

// SaveXLSX writes the report as workbook with the counts table and a clustered column chart.
func (r Report) SaveXLSX(path string) error {
	f, err := r.workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func (r Report) workbook() (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	rows := [][]any{{"Resource type", sourceLabel, destinationLabel}}
	for _, c := range r.Counts {
		rows = append(rows, []any{c.ResourceType, c.Source, c.Destination})
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(sheetName, "A1", "C1", headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "A", "C", 26); err != nil {
		f.Close()
		return nil, err
	}
	if len(r.Counts) == 0 {
		return f, nil
	}

	lastRow := len(rows)
	categories := fmt.Sprintf("'%s'!$A$2:$A$%d", sheetName, lastRow)
	if err := f.AddChart(sheetName, "E2", &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{
			{
				Name:       fmt.Sprintf("'%s'!$B$1", sheetName),
				Categories: categories,
				Values:     fmt.Sprintf("'%s'!$B$2:$B$%d", sheetName, lastRow),
			},
			{
				Name:       fmt.Sprintf("'%s'!$C$1", sheetName),
				Categories: categories,
				Values:     fmt.Sprintf("'%s'!$C$2:$C$%d", sheetName, lastRow),
			},
		},
		Title:  []excelize.RichTextRun{{Text: chartTitle}},
		Legend: excelize.ChartLegend{Position: "bottom"},
		YAxis: excelize.ChartAxis{
			MajorGridLines: true,
			Title:          []excelize.RichTextRun{{Text: "Number of resources"}},
		},
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to add chart: %w", err)
	}
	return f, nil
}
