package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/rh360-attendance/internal/database"
)

// WireEvent is a queued event as kiosks upload it.
type WireEvent struct {
	LocalID      string   `json:"local_id" validate:"max=100"`
	Photo        string   `json:"photo,omitempty"`
	QRData       string   `json:"qr_data,omitempty" validate:"max=4096"`
	EmployeeID   string   `json:"employee_id,omitempty" validate:"max=100"`
	EmployeeName string   `json:"employee_name,omitempty" validate:"max=200"`
	Type         string   `json:"type" validate:"max=50"`
	Timestamp    string   `json:"timestamp"`
	Latitude     *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Address      string   `json:"address,omitempty" validate:"max=500"`
	Notes        string   `json:"notes,omitempty" validate:"max=1000"`
}

// Queued converts the upload form. The photo stays encoded until the event
// is processed so one bad photo only fails its own item.
func (w WireEvent) Queued() QueuedEvent {
	return QueuedEvent{
		LocalID:    w.LocalID,
		PhotoData:  w.Photo,
		QRData:     w.QRData,
		Identifier: w.EmployeeID,
		Name:       w.EmployeeName,
		Type:       w.Type,
		Timestamp:  w.Timestamp,
		Location: database.Location{
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			Address:   strings.TrimSpace(w.Address),
		},
		Notes: w.Notes,
	}
}

// Batch is the body of a sync upload.
type Batch struct {
	OfflineRecords []WireEvent `json:"offline_records" validate:"dive"`
}

// Events converts all records of the batch.
func (b Batch) Events() []QueuedEvent {
	out := make([]QueuedEvent, len(b.OfflineRecords))
	for i, w := range b.OfflineRecords {
		out[i] = w.Queued()
	}
	return out
}

// ParseBatch reads a batch given either as {"offline_records": [...]} or as
// a bare JSON array.
func ParseBatch(data []byte) (Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Batch{}, errors.New("empty batch")
	}

	var batch Batch
	if data[0] == '[' {
		if err := json.Unmarshal(data, &batch.OfflineRecords); err != nil {
			return Batch{}, fmt.Errorf("decode batch: %w", err)
		}
		return batch, nil
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}
