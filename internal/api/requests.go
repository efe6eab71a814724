package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

// Defaults fill in filter fields the client leaves out.
type Defaults struct {
	DateStart time.Time
	DateEnd   time.Time
	CloudPct  float64
}

// FieldRequest is the body shared by the polygon endpoints. Vertex count is
// checked by the geometry package so it maps to the invalid-geometry error.
type FieldRequest struct {
	Coords    []models.Vertex `json:"coords"`
	DateStart string          `json:"dateStart" validate:"omitempty,datetime=2006-01-02"`
	DateEnd   string          `json:"dateEnd" validate:"omitempty,datetime=2006-01-02"`
	CloudPct  *float64        `json:"cloudPct" validate:"omitempty,gte=0,lte=100"`
	District  string          `json:"district" validate:"omitempty,max=128"`
}

// Filter applies defaults to the optional fields.
func (r FieldRequest) Filter(d Defaults) models.FilterConfig {
	f := models.FilterConfig{
		DateStart: d.DateStart,
		DateEnd:   d.DateEnd,
		CloudPct:  d.CloudPct,
	}
	if r.DateStart != "" {
		f.DateStart, _ = time.Parse(models.DateLayout, r.DateStart)
	}
	if r.DateEnd != "" {
		f.DateEnd, _ = time.Parse(models.DateLayout, r.DateEnd)
	}
	if r.CloudPct != nil {
		f.CloudPct = *r.CloudPct
	}
	return f
}

type ExportRequest struct {
	Day      string          `json:"day" validate:"required,datetime=2006-01-02"`
	Coords   []models.Vertex `json:"coords"`
	CloudPct *float64        `json:"cloudPct" validate:"omitempty,gte=0,lte=100"`
}

func (r ExportRequest) Date() time.Time {
	d, _ := time.Parse(models.DateLayout, r.Day)
	return d
}

type SessionExportRequest struct {
	Day string `json:"day" validate:"required,datetime=2006-01-02"`
}

var errBadRequest = errors.New("bad request")

// validationError flattens validator output into one readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", errBadRequest, strings.Join(msgs, "; "))
}
