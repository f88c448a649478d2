package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Pickup statuses.
const (
	PickupPending    = "pending"
	PickupAccepted   = "accepted"
	PickupInProgress = "in_progress"
	PickupCompleted  = "completed"
	PickupCancelled  = "cancelled"
)

// TokenResponse from POST /users/token/ and /users/token/refresh/
type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Pickup represents a pickup request.
type Pickup struct {
	ID            int64      `json:"id"`
	Bin           *int64     `json:"bin"`
	Customer      *int64     `json:"customer"`
	Worker        *int64     `json:"worker"`
	Status        string     `json:"status"`
	WasteType     string     `json:"waste_type"`
	Address       string     `json:"address"`
	Latitude      float64    `json:"latitude,string"` // decimal fields arrive as strings
	Longitude     float64    `json:"longitude,string"`
	Price         string     `json:"price"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	CompletedTime *time.Time `json:"completed_time"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Bin represents a customer's waste bin.
type Bin struct {
	ID        int64   `json:"id"`
	Label     string  `json:"label"`
	Owner     *int64  `json:"owner"`
	WasteType string  `json:"waste_type"`
	Status    string  `json:"status"`
	FillLevel int     `json:"fill_level"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude,string"`
	Longitude float64 `json:"longitude,string"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// decodeList accepts either a paginated object or a bare array.
func decodeList[T any](body []byte) (Page[T], error) {
	var page Page[T]
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &page.Results); err != nil {
			return page, fmt.Errorf("unmarshal list: %w", err)
		}
		page.Count = len(page.Results)
		return page, nil
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return page, fmt.Errorf("unmarshal page: %w", err)
	}
	return page, nil
}

// ListPickupsOptions configures a ListPickups request.
type ListPickupsOptions struct {
	Page   int
	Status string
	Worker string
}

// ListBinsOptions configures a ListBins request.
type ListBinsOptions struct {
	Page   int
	Status string
}
