package coordinator

import (
	"github.com/google/uuid"
	"github.com/user/nearby-blue/radio"
)

// CentralRadio is the part of radio.CentralManager the Initiator drives
type CentralRadio interface {
	ID() string
	SetDelegate(d radio.CentralDelegate)
	State() radio.ManagerState
	ScanForPeripherals(services []uuid.UUID)
	StopScan()
	Connect(peer radio.Peer) radio.ConnID
	CancelPeripheralConnection(conn radio.ConnID)
	DiscoverServices(conn radio.ConnID, services []uuid.UUID)
	ReadValue(conn radio.ConnID, char *radio.Characteristic)
	WriteValue(conn radio.ConnID, data []byte, char *radio.Characteristic, writeType radio.WriteType)
}

// PeripheralRadio is the part of radio.PeripheralManager the Responder drives
type PeripheralRadio interface {
	ID() string
	SetDelegate(d radio.PeripheralManagerDelegate)
	State() radio.ManagerState
	AddService(service *radio.MutableService) error
	RemoveAllServices() error
	StartAdvertising(adv radio.Advertisement) error
	StopAdvertising()
	IsAdvertising() bool
	RespondToRequest(req *radio.ATTRequest, result radio.ATTError)
}

var (
	_ CentralRadio    = (*radio.CentralManager)(nil)
	_ PeripheralRadio = (*radio.PeripheralManager)(nil)
)
