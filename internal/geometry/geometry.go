// Package geometry validates and measures user-drawn field polygons.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

const minVertices = 3

// Validated is a polygon that passed validation along with its geodesic area.
type Validated struct {
	Polygon models.Polygon
	AreaM2  float64
}

// Validate checks the vertex count and coordinate ranges and computes the spherical area in square
// meters. A trailing vertex equal to the first is dropped since rings are
// implicitly closed.
func Validate(vertices []models.Vertex) (Validated, error) {
	open := openRing(vertices)
	if len(open) < minVertices {
		return Validated{}, fmt.Errorf("%w: polygon needs at least %d vertices, got %d", models.ErrInvalidGeometry, minVertices, len(open))
	}
	for i, v := range open {
		if math.IsNaN(v.Lng()) || math.IsNaN(v.Lat()) || math.IsInf(v.Lng(), 0) || math.IsInf(v.Lat(), 0) {
			return Validated{}, fmt.Errorf("%w: vertex %d is not a finite coordinate", models.ErrInvalidGeometry, i)
		}
		if math.Abs(v.Lng()) > 180 || math.Abs(v.Lat()) > 90 {
			return Validated{}, fmt.Errorf("%w: vertex %d (%g, %g) is outside lng [-180, 180] / lat [-90, 90]",
				models.ErrInvalidGeometry, i, v.Lng(), v.Lat())
		}
	}

	poly := models.Polygon{Vertices: open}
	return Validated{
		Polygon: poly,
		AreaM2:  Area(poly),
	}, nil
}

// Area returns the geodesic area of the polygon on a spherical earth.
func Area(p models.Polygon) float64 {
	return math.Abs(geo.Area(ToOrb(p)))
}

// Centroid is the unweighted mean of the vertices. It is not the area
// centroid and can fall outside concave shapes.
func Centroid(p models.Polygon) models.Vertex {
	var lng, lat float64
	for _, v := range p.Vertices {
		lng += v.Lng()
		lat += v.Lat()
	}
	n := float64(len(p.Vertices))
	if n == 0 {
		return models.Vertex{}
	}
	return models.Vertex{lng / n, lat / n}
}

// ToOrb converts the polygon into a closed orb ring.
func ToOrb(p models.Polygon) orb.Polygon {
	ring := make(orb.Ring, 0, len(p.Vertices)+1)
	for _, v := range p.Vertices {
		ring = append(ring, orb.Point{v.Lng(), v.Lat()})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// GeoJSON renders the polygon as a GeoJSON geometry object.
func GeoJSON(p models.Polygon) (json.RawMessage, error) {
	data, err := json.Marshal(geojson.NewGeometry(ToOrb(p)))
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return data, nil
}

func openRing(vertices []models.Vertex) []models.Vertex {
	out := make([]models.Vertex, len(vertices))
	copy(out, vertices)
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
