package anisette

import (
	"fmt"
	"time"
)

// serialNumberPlaceholder: the serial is never validated but must be
// non-empty for the account services to accept the bundle.
const serialNumberPlaceholder = "0"

// Provider response header names shared by both dialects.
const (
	headerMachineID       = "X-Apple-I-MD-M"
	headerOneTimePassword = "X-Apple-I-MD"
	headerRoutingInfo     = "X-Apple-I-MD-RINFO"
	headerClientInfo      = "X-MMe-Client-Info"
	headerLocalUserID     = "X-Apple-I-MD-LU"
	headerDeviceID        = "X-Mme-Device-Id"
	headerClientTime      = "X-Apple-I-Client-Time"
	headerLocale          = "X-Apple-Locale"
	headerTimeZone        = "X-Apple-I-TimeZone"
)

// recordFromV1 maps a legacy flat header map into an AnisetteRecord. Every
// field including the device description and timestamps comes from the
// server.
func recordFromV1(headers map[string]string) (*AnisetteRecord, error) {
	rec := &AnisetteRecord{
		MachineID:          headers[headerMachineID],
		OneTimePassword:    headers[headerOneTimePassword],
		RoutingInfo:        headers[headerRoutingInfo],
		DeviceDescription:  headers[headerClientInfo],
		LocalUserID:        headers[headerLocalUserID],
		DeviceUniqueID:     headers[headerDeviceID],
		Date:               headers[headerClientTime],
		Locale:             headers[headerLocale],
		TimeZone:           headers[headerTimeZone],
		DeviceSerialNumber: serialNumberPlaceholder,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnisetteV1, err)
	}
	return rec, nil
}

// recordFromV3 maps a get_headers response into an AnisetteRecord. Only the
// provider trio comes from the server; identity fields come from the local
// device identity, and the timestamp is generated here.
func recordFromV3(headers map[string]string, info ClientInfo, localUserID, deviceID string, now time.Time) (*AnisetteRecord, error) {
	rec := &AnisetteRecord{
		MachineID:          headers[headerMachineID],
		OneTimePassword:    headers[headerOneTimePassword],
		RoutingInfo:        headers[headerRoutingInfo],
		DeviceDescription:  info.ClientInfo,
		LocalUserID:        localUserID,
		DeviceUniqueID:     deviceID,
		Date:               ClientTime(now),
		Locale:             CurrentLocale(),
		TimeZone:           CurrentTimeZone(),
		DeviceSerialNumber: serialNumberPlaceholder,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnisetteV3, err)
	}
	return rec, nil
}
