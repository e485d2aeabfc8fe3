// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/trackgate/internal/models"
	"github.com/tomtom215/trackgate/internal/transport"
)

// reportQuery builds the shared report parameters. Every report endpoint
// takes one or more device IDs and a closed time range.
func reportQuery(deviceIDs []int, from, to time.Time) url.Values {
	q := url.Values{}
	for _, id := range deviceIDs {
		q.Add("deviceId", strconv.Itoa(id))
	}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	return q
}

// RouteReport returns the raw position history for the devices in range.
func (c *Client) RouteReport(ctx context.Context, deviceIDs []int, from, to time.Time) ([]models.RouteReportEntry, error) {
	var entries []models.RouteReportEntry
	req := &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/reports/route",
		Query:  reportQuery(deviceIDs, from, to),
	}
	if err := c.get(ctx, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// TripsReport returns detected trips for the devices in range.
func (c *Client) TripsReport(ctx context.Context, deviceIDs []int, from, to time.Time) ([]models.TripReportEntry, error) {
	var entries []models.TripReportEntry
	req := &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/reports/trips",
		Query:  reportQuery(deviceIDs, from, to),
	}
	if err := c.get(ctx, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// StopsReport returns detected stops for the devices in range.
func (c *Client) StopsReport(ctx context.Context, deviceIDs []int, from, to time.Time) ([]models.StopReportEntry, error) {
	var entries []models.StopReportEntry
	req := &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/reports/stops",
		Query:  reportQuery(deviceIDs, from, to),
	}
	if err := c.get(ctx, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SummaryReport returns aggregate distance and speed figures per device.
func (c *Client) SummaryReport(ctx context.Context, deviceIDs []int, from, to time.Time) ([]models.SummaryReportEntry, error) {
	var entries []models.SummaryReportEntry
	req := &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/reports/summary",
		Query:  reportQuery(deviceIDs, from, to),
	}
	if err := c.get(ctx, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// EventsReport returns server events for the devices in range.
func (c *Client) EventsReport(ctx context.Context, deviceIDs []int, from, to time.Time) ([]models.Event, error) {
	var events []models.Event
	req := &transport.Request{
		Method: http.MethodGet,
		Path:   "/api/reports/events",
		Query:  reportQuery(deviceIDs, from, to),
	}
	if err := c.get(ctx, req, &events); err != nil {
		return nil, err
	}
	return events, nil
}
