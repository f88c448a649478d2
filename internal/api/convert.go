package api

import "github.com/klynaa/realtime/internal/protocol"

// Assignment converts a REST pickup into the shape pushed over the worker
// channel.
func (p Pickup) Assignment() protocol.Assignment {
	a := protocol.Assignment{
		PickupID:      p.ID,
		Status:        p.Status,
		Address:       p.Address,
		WasteType:     p.WasteType,
		ScheduledTime: p.ScheduledTime,
		Earnings:      p.Price,
	}
	if p.Bin != nil {
		a.BinID = *p.Bin
	}
	if p.Latitude != 0 || p.Longitude != 0 {
		a.Location = &protocol.Location{Lat: p.Latitude, Lng: p.Longitude}
	}
	return a
}
