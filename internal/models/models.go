// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package models defines the JSON data model of the tracking server API.
//
// Field names follow the server's camelCase wire format. Attribute maps are
// kept opaque (map[string]interface{}) because the server allows arbitrary
// per-entity extension attributes.
package models

import "time"

// Device is a tracked unit registered on the server.
type Device struct {
	ID             int                    `json:"id"`
	Name           string                 `json:"name"`
	UniqueID       string                 `json:"uniqueId"`
	Status         string                 `json:"status,omitempty"`
	Disabled       bool                   `json:"disabled,omitempty"`
	LastUpdate     *time.Time             `json:"lastUpdate,omitempty"`
	PositionID     int                    `json:"positionId,omitempty"`
	GroupID        int                    `json:"groupId,omitempty"`
	Phone          string                 `json:"phone,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Contact        string                 `json:"contact,omitempty"`
	Category       string                 `json:"category,omitempty"`
	GeofenceIDs    []int                  `json:"geofenceIds,omitempty"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
	ExpirationTime *time.Time             `json:"expirationTime,omitempty"`
}

// Position is a single GPS fix reported by a device.
type Position struct {
	ID         int                    `json:"id"`
	DeviceID   int                    `json:"deviceId"`
	Protocol   string                 `json:"protocol,omitempty"`
	DeviceTime time.Time              `json:"deviceTime"`
	FixTime    time.Time              `json:"fixTime"`
	ServerTime time.Time              `json:"serverTime"`
	Outdated   bool                   `json:"outdated,omitempty"`
	Valid      bool                   `json:"valid"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Altitude   float64                `json:"altitude"`
	Speed      float64                `json:"speed"`
	Course     float64                `json:"course"`
	Address    string                 `json:"address,omitempty"`
	Accuracy   float64                `json:"accuracy,omitempty"`
	Network    map[string]interface{} `json:"network,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Event is a server-generated notification about a device.
type Event struct {
	ID            int                    `json:"id"`
	Type          string                 `json:"type"`
	EventTime     time.Time              `json:"eventTime"`
	DeviceID      int                    `json:"deviceId,omitempty"`
	PositionID    int                    `json:"positionId,omitempty"`
	GeofenceID    int                    `json:"geofenceId,omitempty"`
	MaintenanceID int                    `json:"maintenanceId,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// Well-known event types emitted by the server.
const (
	EventDeviceOnline    = "deviceOnline"
	EventDeviceOffline   = "deviceOffline"
	EventDeviceMoving    = "deviceMoving"
	EventDeviceStopped   = "deviceStopped"
	EventGeofenceEnter   = "geofenceEnter"
	EventGeofenceExit    = "geofenceExit"
	EventAlarm           = "alarm"
	EventIgnitionOn      = "ignitionOn"
	EventIgnitionOff     = "ignitionOff"
	EventDeviceOverspeed = "deviceOverspeed"
)

// Geofence is a named geographic area in WKT form.
type Geofence struct {
	ID          int                    `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Area        string                 `json:"area"`
	CalendarID  int                    `json:"calendarId,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// User is a server account.
type User struct {
	ID            int                    `json:"id"`
	Name          string                 `json:"name"`
	Email         string                 `json:"email"`
	Phone         string                 `json:"phone,omitempty"`
	ReadOnly      bool                   `json:"readonly,omitempty"`
	Administrator bool                   `json:"administrator,omitempty"`
	Disabled      bool                   `json:"disabled,omitempty"`
	DeviceLimit   int                    `json:"deviceLimit,omitempty"`
	UserLimit     int                    `json:"userLimit,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// ServerInfo describes the remote server instance.
type ServerInfo struct {
	ID           int                    `json:"id"`
	Registration bool                   `json:"registration,omitempty"`
	ReadOnly     bool                   `json:"readonly,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Map          string                 `json:"map,omitempty"`
	Latitude     float64                `json:"latitude,omitempty"`
	Longitude    float64                `json:"longitude,omitempty"`
	Zoom         int                    `json:"zoom,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
}

// RouteReportEntry is one position row of a route report.
type RouteReportEntry = Position

// TripReportEntry is one trip row of a trips report.
type TripReportEntry struct {
	DeviceID        int       `json:"deviceId"`
	DeviceName      string    `json:"deviceName,omitempty"`
	Distance        float64   `json:"distance"`
	AverageSpeed    float64   `json:"averageSpeed"`
	MaxSpeed        float64   `json:"maxSpeed"`
	SpentFuel       float64   `json:"spentFuel,omitempty"`
	StartTime       time.Time `json:"startTime"`
	StartAddress    string    `json:"startAddress,omitempty"`
	StartLat        float64   `json:"startLat"`
	StartLon        float64   `json:"startLon"`
	EndTime         time.Time `json:"endTime"`
	EndAddress      string    `json:"endAddress,omitempty"`
	EndLat          float64   `json:"endLat"`
	EndLon          float64   `json:"endLon"`
	DriverUniqueID  string    `json:"driverUniqueId,omitempty"`
	DriverName      string    `json:"driverName,omitempty"`
	Duration        int64     `json:"duration"`
	StartPositionID int       `json:"startPositionId,omitempty"`
	EndPositionID   int       `json:"endPositionId,omitempty"`
}

// StopReportEntry is one stop row of a stops report.
type StopReportEntry struct {
	DeviceID    int       `json:"deviceId"`
	DeviceName  string    `json:"deviceName,omitempty"`
	Duration    int64     `json:"duration"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Address     string    `json:"address,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	PositionID  int       `json:"positionId,omitempty"`
	SpentFuel   float64   `json:"spentFuel,omitempty"`
	EngineHours int64     `json:"engineHours,omitempty"`
}

// SummaryReportEntry is one device row of a summary report.
type SummaryReportEntry struct {
	DeviceID     int     `json:"deviceId"`
	DeviceName   string  `json:"deviceName,omitempty"`
	Distance     float64 `json:"distance"`
	AverageSpeed float64 `json:"averageSpeed"`
	MaxSpeed     float64 `json:"maxSpeed"`
	SpentFuel    float64 `json:"spentFuel,omitempty"`
	EngineHours  int64   `json:"engineHours,omitempty"`
}
