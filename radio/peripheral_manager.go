package radio

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/logger"
)

// PeripheralManagerDelegate matches CBPeripheralManagerDelegate.
// Calls arrive serially on the manager's dispatch queue.
type PeripheralManagerDelegate interface {
	DidUpdatePeripheralState(state ManagerState)
	DidStartAdvertising(err error)
	DidReceiveReadRequest(req *ATTRequest)
	DidReceiveWriteRequests(reqs []*ATTRequest)
	CentralDidConnect(central Peer)
	CentralDidDisconnect(central Peer, err error)
}

// PeripheralManager publishes a GATT database and advertises it
type PeripheralManager struct {
	air   *Air
	id    string
	name  string
	queue *dispatchQueue

	mu          sync.Mutex
	delegate    PeripheralManagerDelegate
	state       ManagerState
	powered     bool
	services    []*MutableService
	advertising bool
	adv         Advertisement
}

// ID returns the local device id
func (pm *PeripheralManager) ID() string {
	return pm.id
}

func (pm *PeripheralManager) prefix() string {
	return logger.Prefix(pm.id, "Peripheral")
}

// SetDelegate installs the delegate; see CentralManager.SetDelegate
func (pm *PeripheralManager) SetDelegate(d PeripheralManagerDelegate) {
	pm.mu.Lock()
	pm.delegate = d
	state := pm.state
	pm.mu.Unlock()

	if d != nil && state != StateUnknown {
		pm.queue.async(func() { d.DidUpdatePeripheralState(state) })
	}
}

func (pm *PeripheralManager) getDelegate() PeripheralManagerDelegate {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.delegate
}

// State returns the adapter state
func (pm *PeripheralManager) State() ManagerState {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.state
}

func (pm *PeripheralManager) transition(state ManagerState) {
	pm.mu.Lock()
	if state == StatePoweredOn && !pm.powered {
		pm.mu.Unlock()
		return
	}
	if pm.state == state {
		pm.mu.Unlock()
		return
	}
	pm.state = state
	d := pm.delegate
	pm.mu.Unlock()

	logger.Debug(pm.prefix(), "📶 Adapter state: %s", state)
	if d != nil {
		d.DidUpdatePeripheralState(state)
	}
}

func (pm *PeripheralManager) setPowered(on bool) {
	pm.mu.Lock()
	pm.powered = on
	if !on {
		// A powered-off stack forgets its GATT database and advertisement
		pm.advertising = false
		pm.services = nil
	}
	pm.mu.Unlock()

	if on {
		pm.queue.after(pm.air.sim.PowerOnDelay(), func() { pm.transition(StatePoweredOn) })
	} else {
		pm.queue.async(func() { pm.transition(StatePoweredOff) })
	}
}

// AddService publishes service. Not allowed while advertising.
func (pm *PeripheralManager) AddService(service *MutableService) error {
	if service == nil {
		return fmt.Errorf("add service: nil service")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.state != StatePoweredOn {
		return fmt.Errorf("add service: %w", ErrPoweredOff)
	}
	if pm.advertising {
		return fmt.Errorf("cannot add service while advertising")
	}

	for _, char := range service.Characteristics {
		char.Service = service
	}
	pm.services = append(pm.services, service)

	logger.Info(pm.prefix(), "📋 Added service %s (%d characteristics)", service.UUID.String()[:8], len(service.Characteristics))
	return nil
}

// RemoveAllServices clears the GATT database. Not allowed while advertising.
func (pm *PeripheralManager) RemoveAllServices() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.advertising {
		return fmt.Errorf("cannot remove services while advertising")
	}
	pm.services = nil
	return nil
}

// StartAdvertising begins broadcasting adv. DidStartAdvertising reports the outcome.
func (pm *PeripheralManager) StartAdvertising(adv Advertisement) error {
	pm.mu.Lock()
	if pm.state != StatePoweredOn {
		pm.mu.Unlock()
		return fmt.Errorf("start advertising: %w", ErrPoweredOff)
	}
	if pm.advertising {
		pm.mu.Unlock()
		return ErrAlreadyAdvertising
	}

	adv.IsConnectable = true
	adv.ServiceUUIDs = append([]uuid.UUID(nil), adv.ServiceUUIDs...)
	pm.adv = adv
	pm.advertising = true
	d := pm.delegate
	pm.mu.Unlock()

	logger.Info(pm.prefix(), "📡 Started advertising as %q", adv.LocalName)

	if d != nil {
		pm.queue.async(func() { d.DidStartAdvertising(nil) })
	}
	pm.air.announce(pm)
	return nil
}

// StopAdvertising stops broadcasting. Safe to call when not advertising.
func (pm *PeripheralManager) StopAdvertising() {
	pm.mu.Lock()
	was := pm.advertising
	pm.advertising = false
	pm.mu.Unlock()

	if was {
		logger.Info(pm.prefix(), "📡 Stopped advertising")
	}
}

// IsAdvertising reports whether the manager is broadcasting
func (pm *PeripheralManager) IsAdvertising() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.advertising
}

func (pm *PeripheralManager) advertisement() (Advertisement, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.adv, pm.advertising && pm.state == StatePoweredOn
}

// RespondToRequest answers a read or write request. For a successful read the
// response carries req.Value. Requests not bound to a live connection are ignored.
func (pm *PeripheralManager) RespondToRequest(req *ATTRequest, result ATTError) {
	if req == nil || req.respond == nil {
		return
	}
	logger.Trace(pm.prefix(), "📨 Responding to %s: %v", req, result)
	req.respond(result, req.Value)
}

// characteristic finds the mutable characteristic behind a central-side handle
func (pm *PeripheralManager) characteristic(char *Characteristic) *MutableCharacteristic {
	if char == nil {
		return nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, s := range pm.services {
		if char.Service != nil && s.UUID != char.Service.UUID {
			continue
		}
		for _, mc := range s.Characteristics {
			if mc.UUID == char.UUID {
				return mc
			}
		}
	}
	return nil
}

// snapshotServices builds the central-side view of the database
func (pm *PeripheralManager) snapshotServices(filter []uuid.UUID) []*Service {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	wanted := func(id uuid.UUID) bool {
		if len(filter) == 0 {
			return true
		}
		for _, f := range filter {
			if f == id {
				return true
			}
		}
		return false
	}

	var out []*Service
	for _, s := range pm.services {
		if !wanted(s.UUID) {
			continue
		}
		svc := &Service{UUID: s.UUID, IsPrimary: s.IsPrimary}
		for _, mc := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &Characteristic{
				UUID:       mc.UUID,
				Properties: mc.Properties,
				Service:    svc,
			})
		}
		out = append(out, svc)
	}
	return out
}

func (pm *PeripheralManager) deliverRead(req *ATTRequest) {
	pm.queue.async(func() {
		if d := pm.getDelegate(); d != nil {
			d.DidReceiveReadRequest(req)
		}
	})
}

func (pm *PeripheralManager) deliverWrites(reqs []*ATTRequest) {
	pm.queue.async(func() {
		if d := pm.getDelegate(); d != nil {
			d.DidReceiveWriteRequests(reqs)
		}
	})
}

func (pm *PeripheralManager) centralConnected(central Peer) {
	pm.queue.async(func() {
		if d := pm.getDelegate(); d != nil {
			d.CentralDidConnect(central)
		}
	})
}

func (pm *PeripheralManager) centralDisconnected(central Peer, err error) {
	pm.queue.async(func() {
		if d := pm.getDelegate(); d != nil {
			d.CentralDidDisconnect(central, err)
		}
	})
}
