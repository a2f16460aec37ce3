// Package query answers hotspot, statistics, point prediction and location
// search requests on top of the inference resolver.
package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/crimecast/core/grid"
	"github.com/kilianp07/crimecast/core/incident"
	"github.com/kilianp07/crimecast/core/inference"
	"github.com/kilianp07/crimecast/core/location"
	"github.com/kilianp07/crimecast/core/logger"
	"github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

// SeriesDays is the length of the statistics time series.
const SeriesDays = 30

// DefaultSearchLimit caps location search results.
const DefaultSearchLimit = 10

var (
	// ErrInvalidThreshold is returned for thresholds outside [0,1] or NaN.
	ErrInvalidThreshold = inference.ErrInvalidThreshold
	// ErrOutsideGrid is returned for coordinates outside the configured area.
	ErrOutsideGrid = errors.New("coordinates outside the forecast area")
)

// UnknownCityError reports a city the service has no artifacts for.
type UnknownCityError struct {
	City  string
	Known []string
}

func (e *UnknownCityError) Error() string {
	return fmt.Sprintf("unknown city %q (known: %s)", e.City, strings.Join(e.Known, ", "))
}

// RiskLevel buckets a hotspot weight.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Level maps a risk in [0,1] to its bucket: high from 0.75, medium from 0.6.
func Level(risk float64) RiskLevel {
	switch {
	case risk >= 0.75:
		return RiskHigh
	case risk >= 0.6:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TierSource reports the predictor tier currently serving forecasts.
type TierSource interface {
	Tier() string
}

// Hotspot is one cell of a hotspot answer.
type Hotspot struct {
	ID          string    `json:"id"`
	Row         int       `json:"row"`
	Col         int       `json:"col"`
	Channel     string    `json:"channel"`
	Lat         float64   `json:"latitude"`
	Lon         float64   `json:"longitude"`
	Probability float64   `json:"probability"`
	Risk        float64   `json:"risk"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	Intensity   int       `json:"intensity"`
	Observed    bool      `json:"observed"`
}

// HotspotsResult answers GetHotspots.
type HotspotsResult struct {
	ForecastID      string    `json:"forecastId"`
	City            string    `json:"city"`
	Date            time.Time `json:"date"`
	Threshold       float64   `json:"threshold"`
	Cutoff          string    `json:"cutoff"`
	Tier            string    `json:"tier"`
	Extrapolated    bool      `json:"extrapolated"`
	DegradedFactors []string  `json:"degradedFactors,omitempty"`
	Hotspots        []Hotspot `json:"hotspots"`
	Count           int       `json:"count"`

	// Forecast is the underlying forecast, used by renderers and publishers.
	Forecast *inference.Forecast `json:"-"`
}

// DailyCount is one point of the statistics time series.
type DailyCount struct {
	Date      time.Time `json:"date"`
	Incidents int       `json:"incidents"`
}

// Statistics answers GetStatistics.
type Statistics struct {
	City           string          `json:"city"`
	Tier           string          `json:"tier"`
	TotalIncidents int             `json:"totalCrimes"`
	DaysObserved   int             `json:"daysObserved"`
	FirstDay       time.Time       `json:"firstDay"`
	LastDay        time.Time       `json:"lastDay"`
	Channels       map[string]int  `json:"channels"`
	HotspotsCount  int             `json:"hotspotsCount"`
	AverageRisk    float64         `json:"averageRiskLevel"`
	ForecastDate   time.Time       `json:"forecastDate"`
	Extrapolated   bool            `json:"extrapolated"`
	TimeSeries     []DailyCount    `json:"timeSeriesData"`
	Ingest         incident.Report `json:"ingest"`
}

// Target selects a point by name or by coordinates. Name wins when set.
type Target struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// PointForecast answers Predict.
type PointForecast struct {
	Found        bool               `json:"found"`
	Query        string             `json:"query,omitempty"`
	Place        string             `json:"place,omitempty"`
	Lat          float64            `json:"lat"`
	Lon          float64            `json:"lon"`
	Row          int                `json:"row"`
	Col          int                `json:"col"`
	Date         time.Time          `json:"date"`
	Tier         string             `json:"tier"`
	Extrapolated bool               `json:"extrapolated"`
	Probability  float64            `json:"probability"`
	RiskLevel    RiskLevel          `json:"riskLevel"`
	Channels     map[string]float64 `json:"channels"`
	Nearest      string             `json:"nearest,omitempty"`
	DistanceM    float64            `json:"distanceMeters,omitempty"`
}

// Service answers queries for one configured city. It holds read-only
// references and is safe for concurrent use.
type Service struct {
	// Cities lists the accepted city names; an empty request city selects
	// the first one.
	Cities    []string
	Resolver  *inference.Resolver
	Gazetteer *location.Gazetteer
	// Defaults provides the cutoff, soft factor and enabled factors of
	// every forecast and the threshold used by GetStatistics.
	Defaults inference.Request
	Ingest   incident.Report
	Tiers    TierSource
	Bus      eventbus.EventBus
	Log      logger.Logger
}

func (s *Service) city(name string) (string, error) {
	if len(s.Cities) == 0 {
		return name, nil
	}
	if strings.TrimSpace(name) == "" {
		return s.Cities[0], nil
	}
	for _, c := range s.Cities {
		if strings.EqualFold(strings.TrimSpace(name), c) {
			return c, nil
		}
	}
	return "", &UnknownCityError{City: name, Known: slices.Clone(s.Cities)}
}

func (s *Service) tier() string {
	if s.Tiers == nil {
		return "model"
	}
	return s.Tiers.Tier()
}

// NextDay returns the day after the last observed day, the default forecast
// date.
func (s *Service) NextDay() time.Time {
	return s.Resolver.Table.End().AddDate(0, 0, 1)
}

func forecastID(city string, req inference.Request, tier string) string {
	key := fmt.Sprintf("%s|%s|%g|%s|%g|%v|%s", strings.ToLower(city), req.Date.Format(time.DateOnly),
		req.Threshold, req.Cutoff, req.SoftFactor, req.Factors, tier)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// GetHotspots forecasts date and returns the cells that survive the cutoff,
// riskiest first. A zero date selects NextDay.
func (s *Service) GetHotspots(ctx context.Context, city string, threshold float64, date time.Time) (HotspotsResult, error) {
	name, err := s.city(city)
	if err != nil {
		return HotspotsResult{}, err
	}
	if !inference.ValidThreshold(threshold) {
		return HotspotsResult{}, fmt.Errorf("%w: got %g", ErrInvalidThreshold, threshold)
	}
	if date.IsZero() {
		date = s.NextDay()
	}
	req := s.Defaults
	req.Date, req.Threshold = incident.Day(date), threshold
	if req.Cutoff == "" {
		req.Cutoff = inference.CutoffHard
	}

	began := time.Now()
	fc, err := s.Resolver.Forecast(ctx, req)
	if err != nil {
		return HotspotsResult{}, err
	}
	tier := s.tier()
	res := HotspotsResult{
		ForecastID:      forecastID(name, req, tier),
		City:            name,
		Date:            fc.Date,
		Threshold:       threshold,
		Cutoff:          string(fc.Cutoff),
		Tier:            tier,
		Extrapolated:    fc.Extrapolated,
		DegradedFactors: fc.DegradedFactors,
		Hotspots:        make([]Hotspot, 0, len(fc.Points)),
		Forecast:        fc,
	}
	for _, p := range fc.Points {
		risk := min(1, p.Weight)
		res.Hotspots = append(res.Hotspots, Hotspot{
			ID:          fmt.Sprintf("hotspot-%s-%d-%d", p.Channel, p.Cell.Row, p.Cell.Col),
			Row:         p.Cell.Row,
			Col:         p.Cell.Col,
			Channel:     p.Channel,
			Lat:         p.Lat,
			Lon:         p.Lon,
			Probability: p.Probability,
			Risk:        risk,
			RiskLevel:   Level(risk),
			Intensity:   p.Intensity,
			Observed:    p.Observed,
		})
	}
	slices.SortStableFunc(res.Hotspots, func(a, b Hotspot) int { return cmp.Compare(b.Risk, a.Risk) })
	res.Count = len(res.Hotspots)

	if s.Bus != nil {
		s.Bus.Publish(metrics.ForecastEvent{
			ForecastID:   res.ForecastID,
			Date:         res.Date,
			Tier:         tier,
			Extrapolated: res.Extrapolated,
			Cells:        len(fc.Probabilities.Data),
			Hotspots:     res.Count,
			Degraded:     res.DegradedFactors,
			Latency:      time.Since(began),
			Time:         time.Now(),
		})
	}
	if len(res.DegradedFactors) > 0 {
		logger.OrNop(s.Log).Warnf("forecast %s degraded: factors %s fell back to 1.0", res.ForecastID, strings.Join(res.DegradedFactors, ","))
	}
	return res, nil
}

// GetStatistics summarises the observed table and the next-day forecast.
func (s *Service) GetStatistics(ctx context.Context, city string) (Statistics, error) {
	name, err := s.city(city)
	if err != nil {
		return Statistics{}, err
	}
	t := s.Resolver.Table
	st := Statistics{
		City:           name,
		Tier:           s.tier(),
		TotalIncidents: t.Total(),
		DaysObserved:   t.Days(),
		FirstDay:       t.Start,
		LastDay:        t.End(),
		Channels:       make(map[string]int, len(t.Channels)),
		Ingest:         s.Ingest,
		TimeSeries:     []DailyCount{},
	}
	cells := t.Cells()
	for d := 0; d < t.Days(); d++ {
		frame := t.Frame(d)
		for ch, channel := range t.Channels {
			for _, v := range frame[ch*cells : (ch+1)*cells] {
				st.Channels[channel] += int(v)
			}
		}
	}
	for d := max(0, t.Days()-SeriesDays); d < t.Days(); d++ {
		st.TimeSeries = append(st.TimeSeries, DailyCount{Date: t.Date(d), Incidents: t.DayTotal(d)})
	}

	hs, err := s.GetHotspots(ctx, name, s.Defaults.Threshold, time.Time{})
	switch {
	case errors.Is(err, inference.ErrNoSamples):
		return st, nil
	case err != nil:
		return Statistics{}, err
	}
	st.ForecastDate, st.Extrapolated, st.HotspotsCount = hs.Date, hs.Extrapolated, hs.Count
	if hs.Count > 0 {
		risks := make([]float64, 0, hs.Count)
		for _, h := range hs.Hotspots {
			risks = append(risks, h.Risk)
		}
		st.AverageRisk = stat.Mean(risks, nil)
	}
	return st, nil
}

// Predict forecasts a single point. An unknown place name is reported with
// Found false rather than an error.
func (s *Service) Predict(ctx context.Context, date time.Time, target Target) (PointForecast, error) {
	out := PointForecast{Query: target.Name, Tier: s.tier()}
	lat, lon := target.Lat, target.Lon
	if target.Name != "" {
		if s.Gazetteer == nil {
			return out, nil
		}
		p, ok := s.Gazetteer.Lookup(target.Name)
		if !ok {
			return out, nil
		}
		out.Place, lat, lon = p.Name, p.Lat, p.Lon
	}
	cell := s.Resolver.Grid.Cell(lat, lon)
	if !cell.Valid() {
		return PointForecast{}, fmt.Errorf("%w: (%g, %g)", ErrOutsideGrid, lat, lon)
	}
	if date.IsZero() {
		date = s.NextDay()
	}
	req := s.Defaults
	req.Date = incident.Day(date)
	fc, err := s.Resolver.Forecast(ctx, req)
	if err != nil {
		return PointForecast{}, err
	}

	out.Found = true
	out.Lat, out.Lon = lat, lon
	out.Row, out.Col = cell.Row, cell.Col
	out.Date, out.Extrapolated = fc.Date, fc.Extrapolated
	out.Channels = pointChannels(fc, s.Resolver, cell)
	for _, p := range out.Channels {
		out.Probability = max(out.Probability, p)
	}
	out.RiskLevel = Level(out.Probability)
	if s.Gazetteer != nil && out.Place == "" {
		if near, d, ok := s.Gazetteer.Nearest(lat, lon); ok {
			out.Nearest, out.DistanceM = near.Name, d
		}
	}
	return out, nil
}

func pointChannels(fc *inference.Forecast, r *inference.Resolver, cell grid.Cell) map[string]float64 {
	names := r.Table.Channels
	out := make(map[string]float64, len(names))
	off, n := r.Grid.Offset(cell), r.Grid.Len()
	for ch, name := range names {
		out[name] = fc.Probabilities.Data[ch*n+off]
	}
	return out
}

// SearchLocation returns gazetteer places matching q. No match yields an
// empty slice.
func (s *Service) SearchLocation(ctx context.Context, q string) ([]location.Place, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Gazetteer == nil {
		return []location.Place{}, nil
	}
	return s.Gazetteer.Search(q, DefaultSearchLimit), nil
}
