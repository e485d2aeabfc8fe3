// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package push

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/trackgate/internal/models"
)

// frame is the tagged union the server pushes over the socket. A frame
// carries one or more of the collections, or a single device update;
// absent keys unmarshal to nil.
type frame struct {
	Devices   []models.Device   `json:"devices"`
	Device    *models.Device    `json:"device"`
	Positions []models.Position `json:"positions"`
	Events    []models.Event    `json:"events"`
}

// decodeFrame parses one socket message. Malformed payloads are an error;
// the caller drops them without tearing the connection down.
func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode push frame: %w", err)
	}
	return &f, nil
}

// empty reports whether the frame carried none of the known keys.
func (f *frame) empty() bool {
	return len(f.Devices) == 0 && f.Device == nil && len(f.Positions) == 0 && len(f.Events) == 0
}
