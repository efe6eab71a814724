package services

import "github.com/bobby-s-dev/field-aggregator/internal/models"

// GateInputs are the five scalars the combined summary export depends on.
type GateInputs struct {
	VegetationMean *float64
	AirTemp        *float64
	SoilTemp       *float64
	ForecastAir    *float64
	ForecastSurf   *float64
}

// ExportReady is true iff every input is present and finite.
func ExportReady(in GateInputs) bool {
	return models.Finite(in.VegetationMean) &&
		models.Finite(in.AirTemp) &&
		models.Finite(in.SoilTemp) &&
		models.Finite(in.ForecastAir) &&
		models.Finite(in.ForecastSurf)
}

// DailyReady gates daily CSV and raster export on a non-empty series.
func DailyReady(records []models.DailyRecord) bool {
	return len(records) > 0
}
