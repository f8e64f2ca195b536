package radio

import (
	"fmt"

	"github.com/google/uuid"
)

// ManagerState mirrors CoreBluetooth's CBManagerState
type ManagerState int

const (
	StateUnknown      ManagerState = 0 // Cannot use the radio yet
	StateResetting    ManagerState = 1 // Stack restarting, update imminent
	StateUnsupported  ManagerState = 2
	StateUnauthorized ManagerState = 3
	StatePoweredOff   ManagerState = 4
	StatePoweredOn    ManagerState = 5
)

func (s ManagerState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// ConnID tags one connection attempt. Every callback about that connection
// carries it, so late callbacks for an old attempt can be told apart.
type ConnID uuid.UUID

// NoConn is the zero ConnID
var NoConn ConnID

// NewConnID returns a fresh connection tag
func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (c ConnID) String() string {
	return uuid.UUID(c).String()
}

// Short returns the first 8 characters, for logs
func (c ConnID) Short() string {
	return c.String()[:8]
}

// Peer identifies a remote device
type Peer struct {
	ID   string
	Name string
}

// Advertisement is the payload a peripheral broadcasts
type Advertisement struct {
	LocalName     string
	ServiceUUIDs  []uuid.UUID
	IsConnectable bool
	TxPowerLevel  *int
}

// Map renders the advertisement with CoreBluetooth's kCBAdvData keys
func (a Advertisement) Map() map[string]interface{} {
	m := map[string]interface{}{
		"kCBAdvDataIsConnectable": a.IsConnectable,
	}
	if a.LocalName != "" {
		m["kCBAdvDataLocalName"] = a.LocalName
	}
	if len(a.ServiceUUIDs) > 0 {
		services := make([]interface{}, 0, len(a.ServiceUUIDs))
		for _, s := range a.ServiceUUIDs {
			services = append(services, s.String())
		}
		m["kCBAdvDataServiceUUIDs"] = services
	}
	if a.TxPowerLevel != nil {
		m["kCBAdvDataTxPowerLevel"] = *a.TxPowerLevel
	}
	return m
}

// Advertises reports whether the advertisement lists service
func (a Advertisement) Advertises(service uuid.UUID) bool {
	for _, s := range a.ServiceUUIDs {
		if s == service {
			return true
		}
	}
	return false
}

// Properties is the characteristic properties bitmask
type Properties int

const (
	PropertyBroadcast            Properties = 1 << 0
	PropertyRead                 Properties = 1 << 1
	PropertyWriteWithoutResponse Properties = 1 << 2
	PropertyWrite                Properties = 1 << 3
	PropertyNotify               Properties = 1 << 4
	PropertyIndicate             Properties = 1 << 5
)

// Permissions is the attribute permissions bitmask
type Permissions int

const (
	PermissionReadable  Permissions = 1 << 0
	PermissionWriteable Permissions = 1 << 1
)

// WriteType selects acknowledged or unacknowledged writes
type WriteType int

const (
	WriteWithResponse    WriteType = 0
	WriteWithoutResponse WriteType = 1
)

// Service is the central-side view of a discovered service
type Service struct {
	UUID            uuid.UUID
	IsPrimary       bool
	Characteristics []*Characteristic
}

// Characteristic is the central-side view of a discovered characteristic
type Characteristic struct {
	UUID       uuid.UUID
	Properties Properties
	Service    *Service
}

// MutableService is the peripheral-side service definition
type MutableService struct {
	UUID            uuid.UUID
	IsPrimary       bool
	Characteristics []*MutableCharacteristic
}

// MutableCharacteristic is the peripheral-side characteristic.
// Value is owned by the application; the radio never reads it.
type MutableCharacteristic struct {
	UUID        uuid.UUID
	Properties  Properties
	Permissions Permissions
	Value       []byte
	Service     *MutableService
}

// ATTRequest is a read or write arriving at a peripheral.
// For reads the application sets Value before responding.
type ATTRequest struct {
	Central        Peer
	Characteristic *MutableCharacteristic
	Offset         int
	Value          []byte

	conn    ConnID
	respond func(result ATTError, value []byte)
}

func (r *ATTRequest) String() string {
	if r.Characteristic == nil {
		return fmt.Sprintf("request(central=%s, offset=%d)", r.Central.ID, r.Offset)
	}
	return fmt.Sprintf("request(central=%s, char=%s, offset=%d)", r.Central.ID, r.Characteristic.UUID.String()[:8], r.Offset)
}

// NewATTRequest builds a request not bound to any connection; responding to
// it is a no-op. Used by tests that drive a peripheral delegate directly.
func NewATTRequest(central Peer, char *MutableCharacteristic, offset int, value []byte) *ATTRequest {
	return &ATTRequest{
		Central:        central,
		Characteristic: char,
		Offset:         offset,
		Value:          value,
	}
}
