package models

import (
	"strconv"
	"strings"
)

// Float2 is a nullable CSV cell written with 2 decimals. Nil or non-finite
// values are written as an empty cell.
type Float2 struct {
	Value *float64
}

func (f Float2) MarshalCSV() (string, error) {
	return formatCell(f.Value, 2), nil
}

func (f *Float2) UnmarshalCSV(s string) error {
	v, err := parseCell(s)
	f.Value = v
	return err
}

// Float3 is Float2 with 3 decimals, used for vegetation index values.
type Float3 struct {
	Value *float64
}

func (f Float3) MarshalCSV() (string, error) {
	return formatCell(f.Value, 3), nil
}

func (f *Float3) UnmarshalCSV(s string) error {
	v, err := parseCell(s)
	f.Value = v
	return err
}

func formatCell(v *float64, prec int) string {
	if !Finite(v) {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func parseCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SummaryRow is the CSV shape of a SummaryRecord. The district and year
// columns match what the yield service expects.
type SummaryRow struct {
	PolygonID       string `csv:"polygon_id"`
	District        string `csv:"district"`
	Year            int    `csv:"year"`
	PeriodStart     string `csv:"period_start"`
	PeriodEnd       string `csv:"period_end"`
	AreaM2          Float2 `csv:"area_m2"`
	NDVIMean        Float3 `csv:"ndvi_mean"`
	NDVIMin         Float3 `csv:"ndvi_min"`
	NDVIMax         Float3 `csv:"ndvi_max"`
	AirTemp         Float2 `csv:"air_temp_mean"`
	SoilTemp        Float2 `csv:"soil_temp_mean"`
	ForecastAir     Float2 `csv:"forecast_air_temp_avg"`
	ForecastSurface Float2 `csv:"forecast_surface_temp_avg"`
}

type DailyRow struct {
	Date string `csv:"date"`
	Min  Float3 `csv:"ndvi_min"`
	Mean Float3 `csv:"ndvi_mean"`
	Max  Float3 `csv:"ndvi_max"`
}
