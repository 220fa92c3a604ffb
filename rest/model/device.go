package model

import (
	"time"

	"github.com/distrain/tracker/model/device"
)

type APIDevice struct {
	Id           string    `json:"id"`
	Address      string    `json:"address"`
	Status       string    `json:"status"`
	CachedStatus string    `json:"cached_status,omitempty"`
	Connected    bool      `json:"connected"`
	LastLogin    time.Time `json:"last_login"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *APIDevice) BuildFromService(d device.Device) {
	a.Id = d.Id
	a.Address = d.Address
	a.Status = d.Status
	a.LastLogin = d.LastLogin
	a.CreatedAt = d.CreatedAt
}
