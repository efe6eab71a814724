package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

var errNoDailyRecords = errors.New("daily series is empty")

// BuildSummary assembles the SummaryRecord from a session snapshot. It fails
// with ErrExportNotReady unless the export gate is open.
func BuildSummary(st SessionState) (models.SummaryRecord, error) {
	if !ExportReady(st.gateInputs()) || st.Polygon == nil || st.Filter == nil {
		return models.SummaryRecord{}, models.ErrExportNotReady
	}

	rec := models.SummaryRecord{
		PolygonID:          st.PolygonID,
		District:           st.District,
		Year:               st.Filter.DateStart.Year(),
		PeriodStart:        st.Filter.DateStart,
		PeriodEnd:          st.Filter.DateEnd,
		VegetationMean:     st.Vegetation.Mean,
		VegetationMin:      st.Vegetation.Min,
		VegetationMax:      st.Vegetation.Max,
		AirTemp:            st.Climate.AirTemp,
		SoilTemp:           st.Climate.SoilTemp,
		ForecastAirAvg:     st.Forecast.AirTempAvg,
		ForecastSurfaceAvg: st.Forecast.SurfaceTempAvg,
	}
	if st.AreaM2 != nil {
		rec.AreaM2 = *st.AreaM2
	}
	return rec, nil
}

func SummaryRow(rec models.SummaryRecord) models.SummaryRow {
	area := rec.AreaM2
	return models.SummaryRow{
		PolygonID:       rec.PolygonID,
		District:        rec.District,
		Year:            rec.Year,
		PeriodStart:     rec.PeriodStart.Format(models.DateLayout),
		PeriodEnd:       rec.PeriodEnd.Format(models.DateLayout),
		AreaM2:          models.Float2{Value: &area},
		NDVIMean:        models.Float3{Value: rec.VegetationMean},
		NDVIMin:         models.Float3{Value: rec.VegetationMin},
		NDVIMax:         models.Float3{Value: rec.VegetationMax},
		AirTemp:         models.Float2{Value: rec.AirTemp},
		SoilTemp:        models.Float2{Value: rec.SoilTemp},
		ForecastAir:     models.Float2{Value: rec.ForecastAirAvg},
		ForecastSurface: models.Float2{Value: rec.ForecastSurfaceAvg},
	}
}

// SummaryCSV renders the header plus one row.
func SummaryCSV(rec models.SummaryRecord) ([]byte, error) {
	rows := []*models.SummaryRow{ptr(SummaryRow(rec))}
	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("marshal summary csv: %w", err)
	}
	return out, nil
}

// ParseSummaryCSV reads rows written by SummaryCSV.
func ParseSummaryCSV(data []byte) ([]models.SummaryRecord, error) {
	var rows []*models.SummaryRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("parse summary csv: %w", err)
	}

	out := make([]models.SummaryRecord, 0, len(rows))
	for _, r := range rows {
		start, err := time.Parse(models.DateLayout, r.PeriodStart)
		if err != nil {
			return nil, fmt.Errorf("parse period_start: %w", err)
		}
		end, err := time.Parse(models.DateLayout, r.PeriodEnd)
		if err != nil {
			return nil, fmt.Errorf("parse period_end: %w", err)
		}
		rec := models.SummaryRecord{
			PolygonID:          r.PolygonID,
			District:           r.District,
			Year:               r.Year,
			PeriodStart:        start,
			PeriodEnd:          end,
			VegetationMean:     r.NDVIMean.Value,
			VegetationMin:      r.NDVIMin.Value,
			VegetationMax:      r.NDVIMax.Value,
			AirTemp:            r.AirTemp.Value,
			SoilTemp:           r.SoilTemp.Value,
			ForecastAirAvg:     r.ForecastAir.Value,
			ForecastSurfaceAvg: r.ForecastSurface.Value,
		}
		if r.AreaM2.Value != nil {
			rec.AreaM2 = *r.AreaM2.Value
		}
		out = append(out, rec)
	}
	return out, nil
}

// DailyCSV renders the daily series, one row per record.
func DailyCSV(records []models.DailyRecord) ([]byte, error) {
	if !DailyReady(records) {
		return nil, errNoDailyRecords
	}
	rows := make([]*models.DailyRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, &models.DailyRow{
			Date: r.Date.Format(models.DateLayout),
			Min:  models.Float3{Value: r.Min},
			Mean: models.Float3{Value: r.Mean},
			Max:  models.Float3{Value: r.Max},
		})
	}
	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("marshal daily csv: %w", err)
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}
