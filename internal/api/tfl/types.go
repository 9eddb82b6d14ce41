package tfl

import "time"

// Line is a line resource from Line/Mode/{mode}.
type Line struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ModeName     string        `json:"modeName"`
	ServiceTypes []ServiceType `json:"serviceTypes"`
}

// ServiceType tags a line with a service pattern (Regular, Night).
type ServiceType struct {
	Name string `json:"name"`
}

// StopPoint is a station resource from StopPoint/Type/{stopType}.
type StopPoint struct {
	ID                   string               `json:"id"`
	CommonName           string               `json:"commonName"`
	Modes                []string             `json:"modes"`
	StopType             string               `json:"stopType"`
	PlaceType            string               `json:"placeType"`
	Lines                []LineRef            `json:"lines"`
	Lat                  float64              `json:"lat"`
	Lon                  float64              `json:"lon"`
	AdditionalProperties []AdditionalProperty `json:"additionalProperties"`
}

// LineRef is the shortened line identity embedded in a StopPoint.
type LineRef struct {
	ID string `json:"id"`
}

// AdditionalProperty is one entry of a StopPoint's free-form property bag.
type AdditionalProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Prediction is one arrival prediction from Line/{lineId}/Arrivals/{stationId}.
// TimeToStation is upstream-computed seconds and is not guaranteed monotonic
// between successive requests.
type Prediction struct {
	ID                string    `json:"id"`
	VehicleID         string    `json:"vehicleId"`
	LineID            string    `json:"lineId"`
	NaptanID          string    `json:"naptanId"`
	PlatformName      string    `json:"platformName"`
	CurrentLocation   string    `json:"currentLocation"`
	DestinationNaptan string    `json:"destinationNaptan"`
	Towards           string    `json:"towards"`
	TimeToStation     int       `json:"timeToStation"`
	ExpectedArrival   time.Time `json:"expectedArrival"`
	Timing            Timing    `json:"timing"`
}

// Timing carries the upstream observation timestamps of a prediction.
type Timing struct {
	Read time.Time `json:"read"`
}
