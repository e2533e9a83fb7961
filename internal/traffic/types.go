// Package traffic defines the records exchanged between the gate, the
// classification controller, the camera and the display log.
package traffic

import (
	"database/sql/driver"
	"fmt"
)

// VehicleClass is the axle-derived class of a vehicle.
type VehicleClass int

const (
	Unknown VehicleClass = iota
	Light
	Heavy
)

// ClassifyAxles maps an axle count to a vehicle class: up to two axles is a
// light vehicle, anything more is heavy.
func ClassifyAxles(axles uint32) VehicleClass {
	if axles <= 2 {
		return Light
	}
	return Heavy
}

func (v VehicleClass) String() string {
	switch v {
	case Light:
		return "light"
	case Heavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// ParseVehicleClass is the inverse of String.
func ParseVehicleClass(s string) (VehicleClass, error) {
	switch s {
	case "light":
		return Light, nil
	case "heavy":
		return Heavy, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("invalid vehicle class %q", s)
}

func (v VehicleClass) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *VehicleClass) UnmarshalText(b []byte) error {
	parsed, err := ParseVehicleClass(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value stores the class as its string form.
func (v VehicleClass) Value() (driver.Value, error) { return v.String(), nil }

// Scan reads a class stored by Value.
func (v *VehicleClass) Scan(src any) error {
	switch s := src.(type) {
	case string:
		return v.UnmarshalText([]byte(s))
	case []byte:
		return v.UnmarshalText(s)
	case nil:
		*v = Unknown
		return nil
	}
	return fmt.Errorf("cannot scan %T into VehicleClass", src)
}

// Status is the speed-limit compliance of a display record.
type Status int

const (
	Normal Status = iota
	Warning
	Infraction
)

func (s Status) String() string {
	switch s {
	case Warning:
		return "warning"
	case Infraction:
		return "infraction"
	default:
		return "normal"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "normal":
		return Normal, nil
	case "warning":
		return Warning, nil
	case "infraction":
		return Infraction, nil
	}
	return Normal, fmt.Errorf("invalid status %q", s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) { return s.String(), nil }

func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	}
	return fmt.Errorf("cannot scan %T into Status", src)
}

// TransitRecord is one finalized measurement cycle of a gate. Timestamps are
// milliseconds of gate uptime.
type TransitRecord struct {
	StartMS    int64        `json:"start_ms"`
	EndMS      int64        `json:"end_ms"`
	DurationMS uint32       `json:"duration_ms"`
	AxleCount  uint32       `json:"axle_count"`
	Vehicle    VehicleClass `json:"vehicle_type"`
}

func (r TransitRecord) String() string {
	return fmt.Sprintf("Axles=%d, Time=%d ms, Type=%s", r.AxleCount, r.DurationMS, r.Vehicle)
}

// DisplayRecord is what the display and the record log consume. A record on
// the plate path carries the plate with zero speed and limit; TriggerID ties
// it to the speed record that caused the capture.
type DisplayRecord struct {
	SpeedKMH  uint32       `json:"speed_kmh"`
	LimitKMH  uint32       `json:"limit_kmh"`
	Vehicle   VehicleClass `json:"vehicle_type"`
	Status    Status       `json:"status"`
	Plate     string       `json:"plate,omitempty"`
	TriggerID uint64       `json:"trigger_id,omitempty"`
}

// IsPlateRecord reports whether the record came from a camera result.
func (r DisplayRecord) IsPlateRecord() bool {
	return r.Plate != ""
}

// CameraTrigger asks the camera to capture the plate of an infracting vehicle.
type CameraTrigger struct {
	ID       uint64       `json:"id"`
	SpeedKMH uint32       `json:"speed_kmh"`
	Vehicle  VehicleClass `json:"vehicle_type"`
}

// CameraResult is the camera's answer to a trigger. TriggerID is zero when the
// camera does not echo trigger IDs.
type CameraResult struct {
	TriggerID uint64 `json:"trigger_id,omitempty"`
	ValidRead bool   `json:"valid_read"`
	Plate     string `json:"plate"`
}
