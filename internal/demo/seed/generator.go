package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// TimestampLayout matches the time_layout of the builtin iot mapping.
const TimestampLayout = "2006-01-02 15:04:05"

type Location struct {
	ID          string
	Name        string
	Building    string
	Floor       int
	Zone        string
	Coordinates string
	Description string
}

type Device struct {
	ID          string
	Name        string
	LocationID  string
	Type        string
	InstallDate string
	Status      string
}

// Threshold bands per sensor type: min, max, warning low/high, critical
// low/high.
type Threshold struct {
	SensorType   string
	Min, Max     float64
	WarnLow      float64
	WarnHigh     float64
	CriticalLow  float64
	CriticalHigh float64
}

var Locations = []Location{
	{"LOC001", "Factory Floor A", "Main Building", 1, "Zone A", "40.7128,-74.0060", "Main production area"},
	{"LOC002", "Warehouse B", "Storage Building", 0, "Zone B", "40.7589,-73.9851", "Storage facility"},
	{"LOC003", "Office Wing C", "Admin Building", 2, "Zone C", "40.7614,-73.9776", "Administrative offices"},
	{"LOC004", "Lab Section D", "Research Building", 3, "Zone D", "40.7505,-73.9934", "R&D laboratory"},
	{"LOC005", "Loading Dock E", "Logistics Building", 0, "Zone E", "40.7282,-73.7949", "Shipping/receiving"},
}

var Devices = []Device{
	{"DEV001", "Temperature Sensor Alpha", "LOC001", "temperature_sensor", "2023-01-15", "online"},
	{"DEV002", "Humidity Monitor Beta", "LOC001", "humidity_sensor", "2023-01-16", "online"},
	{"DEV003", "Pressure Gauge Gamma", "LOC002", "pressure_sensor", "2023-01-20", "online"},
	{"DEV004", "Vibration Detector Delta", "LOC003", "vibration_sensor", "2023-02-01", "maintenance"},
	{"DEV005", "Air Quality Sensor Epsilon", "LOC004", "air_quality_sensor", "2023-02-10", "online"},
	{"DEV006", "Power Monitor Zeta", "LOC005", "power_meter", "2023-02-15", "online"},
	{"DEV007", "Flow Meter Eta", "LOC001", "flow_sensor", "2023-03-01", "online"},
	{"DEV008", "Light Sensor Theta", "LOC002", "light_sensor", "2023-03-05", "offline"},
	{"DEV009", "Motion Detector Iota", "LOC003", "motion_sensor", "2023-03-10", "online"},
	{"DEV010", "Sound Level Meter Kappa", "LOC004", "sound_sensor", "2023-03-15", "online"},
}

var Thresholds = []Threshold{
	{"temperature_sensor", 15, 35, 18, 32, 10, 40},
	{"humidity_sensor", 30, 70, 35, 65, 20, 80},
	{"pressure_sensor", 0.8, 1.2, 0.85, 1.15, 0.7, 1.3},
	{"vibration_sensor", 0, 50, 5, 45, 0, 60},
	{"air_quality_sensor", 0, 100, 10, 90, 0, 150},
	{"power_meter", 100, 1000, 150, 950, 50, 1200},
	{"flow_sensor", 0, 100, 10, 90, 0, 120},
	{"light_sensor", 100, 1000, 150, 900, 50, 1200},
	{"sound_sensor", 30, 85, 35, 80, 25, 90},
}

type Reading struct {
	DeviceID    string
	SensorType  string
	Value       float64
	Unit        string
	Timestamp   time.Time
	QualityFlag int
	LocationID  string
}

type Item struct {
	LogType   string
	SourceIDs string
	Value     float64
	Method    string
	Timestamp time.Time
	Metadata  string
}

type Alert struct {
	DeviceID       string
	SensorType     string
	AlertType      string
	ThresholdValue float64
	ActualValue    *float64
	Severity       string
	Timestamp      time.Time
	Acknowledged   bool
	AckTimestamp   *time.Time
	AckUser        string
}

// Generator produces deterministic sample rows for a seed. Timestamps fall
// in the days before now.
type Generator struct {
	rnd   *rand.Rand
	start time.Time
	days  int
}

func NewGenerator(seed int64, now time.Time, days int) *Generator {
	if days <= 0 {
		days = 30
	}
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		start: now.Add(-time.Duration(days) * 24 * time.Hour).Truncate(time.Minute),
		days:  days,
	}
}

func (g *Generator) NextReading() Reading {
	device := Devices[g.rnd.Intn(len(Devices))]
	mean, stddev, unit := sensorProfile(device.Type)
	value := mean + g.rnd.NormFloat64()*stddev
	if g.rnd.Float64() < 0.05 {
		value *= pickOne(g.rnd, []float64{0.3, 2.5})
	}
	quality := 1
	if g.rnd.Float64() < 0.02 {
		quality = 0
	}
	return Reading{
		DeviceID:    device.ID,
		SensorType:  device.Type,
		Value:       round2(value),
		Unit:        unit,
		Timestamp:   g.timestamp(true),
		QualityFlag: quality,
		LocationID:  device.LocationID,
	}
}

func (g *Generator) NextItem() Item {
	logType := pickOne(g.rnd, []string{"daily_average", "hourly_max", "anomaly_detection", "efficiency_calc"})
	var (
		value  float64
		method string
	)
	switch logType {
	case "daily_average":
		value, method = 25+g.rnd.NormFloat64()*5, "AVG"
	case "hourly_max":
		value, method = 40+g.rnd.NormFloat64()*10, "MAX"
	case "anomaly_detection":
		value, method = float64(g.rnd.Intn(2)), "ANOMALY_SCORE"
	default:
		value, method = 0.85+g.rnd.NormFloat64()*0.15, "EFFICIENCY_RATIO"
	}
	sources := make([]string, 1+g.rnd.Intn(5))
	for i := range sources {
		sources[i] = fmt.Sprint(1 + g.rnd.Intn(1000))
	}
	return Item{
		LogType:   logType,
		SourceIDs: strings.Join(sources, ","),
		Value:     round2(value),
		Method:    method,
		Timestamp: g.timestamp(false),
		Metadata: fmt.Sprintf(`{"calculation_params":{"window_size":%d},"data_quality":%q}`,
			1+g.rnd.Intn(24), pickOne(g.rnd, []string{"high", "medium", "low"})),
	}
}

func (g *Generator) NextAlert() Alert {
	device := Devices[g.rnd.Intn(len(Devices))]
	alertType := pickOne(g.rnd, []string{"threshold_exceeded", "sensor_offline", "data_quality_low", "anomaly_detected"})
	threshold := 20 + g.rnd.Float64()*60
	alert := Alert{
		DeviceID:       device.ID,
		SensorType:     device.Type,
		AlertType:      alertType,
		ThresholdValue: round2(threshold),
		Severity:       pickOne(g.rnd, []string{"low", "medium", "high", "critical"}),
		Timestamp:      g.timestamp(true),
		Acknowledged:   g.rnd.Intn(2) == 1,
	}
	if alertType == "threshold_exceeded" {
		actual := round2(threshold * (1.1 + g.rnd.Float64()*0.9))
		alert.ActualValue = &actual
	}
	if alert.Acknowledged {
		ackAt := alert.Timestamp.Add(time.Duration(1+g.rnd.Intn(48)) * time.Hour)
		alert.AckTimestamp = &ackAt
		alert.AckUser = pickOne(g.rnd, []string{"admin", "operator1", "manager", "tech1"})
	}
	return alert
}

func (g *Generator) timestamp(withMinutes bool) time.Time {
	offset := time.Duration(g.rnd.Intn(g.days))*24*time.Hour + time.Duration(g.rnd.Intn(24))*time.Hour
	if withMinutes {
		offset += time.Duration(g.rnd.Intn(60)) * time.Minute
	}
	return g.start.Add(offset)
}

func sensorProfile(sensorType string) (mean, stddev float64, unit string) {
	switch {
	case strings.Contains(sensorType, "temperature"):
		return 25, 5, "°C"
	case strings.Contains(sensorType, "humidity"):
		return 50, 15, "%"
	case strings.Contains(sensorType, "pressure"):
		return 1.0, 0.1, "bar"
	case strings.Contains(sensorType, "vibration"):
		return 20, 10, "Hz"
	case strings.Contains(sensorType, "air_quality"):
		return 50, 20, "AQI"
	case strings.Contains(sensorType, "power"):
		return 500, 100, "W"
	case strings.Contains(sensorType, "flow"):
		return 50, 15, "L/min"
	case strings.Contains(sensorType, "light"):
		return 500, 200, "lux"
	case strings.Contains(sensorType, "sound"):
		return 60, 15, "dB"
	default:
		return 50, 10, "units"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne[T any](r *rand.Rand, values []T) T {
	return values[r.Intn(len(values))]
}
