package models

// Device is a registered terminal with its computed liveness.
type Device struct {
	ID                  string     `json:"id"`
	Serial              string     `json:"serial"`
	ClientLabel         string     `json:"clientLabel"`
	NetworkAddress      string     `json:"networkAddress"`
	Status              string     `json:"status"`
	LastSeenAt          *Timestamp `json:"lastSeenAt,omitempty"`
	ExternalEquipmentID *int64     `json:"externalEquipmentId,omitempty"`
	VendorTag           *string    `json:"vendorTag,omitempty"`
	CreatedAt           Timestamp  `json:"createdAt"`
	UpdatedAt           Timestamp  `json:"updatedAt"`
}

// DeviceDiagnostics adds the signal details behind a device's status.
type DeviceDiagnostics struct {
	Device
	Source        string  `json:"source"`
	Advanced      bool    `json:"advanced"`
	ProbeOK       bool    `json:"probeOk"`
	ProviderError *string `json:"providerError,omitempty"`
}

// DeviceListMeta summarizes a device listing.
type DeviceListMeta struct {
	Total          int    `json:"total"`
	Online         int    `json:"online"`
	Unstable       int    `json:"unstable"`
	Offline        int    `json:"offline"`
	Policy         string `json:"policy"`
	ProviderErrors int    `json:"providerErrors"`
}

// DeviceList is the response body for listing devices.
type DeviceList struct {
	Items []Device       `json:"items"`
	Meta  DeviceListMeta `json:"meta"`
}

// DeviceDiagnosticsList is the response body for the diagnostics listing.
type DeviceDiagnosticsList struct {
	Items []DeviceDiagnostics `json:"items"`
	Meta  DeviceListMeta      `json:"meta"`
}

// ProvisionDeviceRequest is the request body for manual provisioning.
type ProvisionDeviceRequest struct {
	Serial         string `json:"serial"`
	ClientLabel    string `json:"clientLabel"`
	NetworkAddress string `json:"networkAddress"`
}

// UpdateDeviceRequest is the request body for identity edits.
type UpdateDeviceRequest struct {
	Serial         *string `json:"serial,omitempty"`
	ClientLabel    *string `json:"clientLabel,omitempty"`
	NetworkAddress *string `json:"networkAddress,omitempty"`
}

// HeartbeatRequest is the request body sent by terminals or their agents.
type HeartbeatRequest struct {
	Serial string `json:"serial"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Serial     string    `json:"serial"`
	LastSeenAt Timestamp `json:"lastSeenAt"`
}
