package service

import (
	apptEntity "clinicsync/modules/appointment/entity"
	providerDto "clinicsync/modules/provider/dto"
	syncEntity "clinicsync/modules/sync/entity"
)

type Winner int

const (
	WinnerLocal Winner = iota
	WinnerRemote
)

func (w Winner) String() string {
	if w == WinnerRemote {
		return "remote"
	}
	return "local"
}

// Resolve decides which side wins when both an appointment and its
// mapped external event exist. The remote side wins only when its
// modification instant is unknown or strictly newer than the mapping's
// last reconciliation point; a tie keeps the local record authoritative
// since the practice calendar is the system of record.
func Resolve(local *apptEntity.Appointment, remote *providerDto.ExternalEvent, mapping *syncEntity.SyncMapping) Winner {
	if remote.Updated == nil {
		return WinnerRemote
	}
	if remote.Updated.After(mapping.UpdatedAt) {
		return WinnerRemote
	}
	return WinnerLocal
}
