package radio

import (
	"fmt"
	"sync"

	"github.com/user/nearby-blue/logger"
)

// DistanceFunc reports how far apart two devices are, in meters.
// The air uses it to derive RSSI for discovered advertisements.
type DistanceFunc func(a, b string) float64

// Air is the in-process medium every simulated manager shares.
// It owns the set of live connections; managers own their own state.
type Air struct {
	sim *Simulator

	mu          sync.Mutex
	centrals    map[string]*CentralManager
	peripherals map[string]*PeripheralManager
	links       map[ConnID]*link
	distance    DistanceFunc
}

// link is one established central -> peripheral connection
type link struct {
	id         ConnID
	central    *CentralManager
	peripheral *PeripheralManager
	mtu        int
}

// NewAir creates a medium; nil config means DefaultSimulationConfig
func NewAir(config *SimulationConfig) *Air {
	return &Air{
		sim:         NewSimulator(config),
		centrals:    make(map[string]*CentralManager),
		peripherals: make(map[string]*PeripheralManager),
		links:       make(map[ConnID]*link),
	}
}

// Simulator exposes the air's simulator
func (a *Air) Simulator() *Simulator {
	return a.sim
}

// SetDistanceFunc wires RSSI to an external notion of position
func (a *Air) SetDistanceFunc(fn DistanceFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.distance = fn
}

// NewCentral registers a central-role manager for deviceID.
// The adapter powers on after the configured bring-up delay.
func (a *Air) NewCentral(deviceID, name string) *CentralManager {
	c := &CentralManager{
		air:     a,
		id:      deviceID,
		name:    name,
		queue:   newDispatchQueue(),
		state:   StateUnknown,
		powered: true,
		seen:    make(map[string]bool),
		pending: make(map[ConnID]Peer),
	}

	a.mu.Lock()
	a.centrals[deviceID] = c
	a.mu.Unlock()

	c.queue.after(a.sim.PowerOnDelay(), func() { c.transition(StatePoweredOn) })
	return c
}

// NewPeripheralManager registers a peripheral-role manager for deviceID
func (a *Air) NewPeripheralManager(deviceID, name string) *PeripheralManager {
	pm := &PeripheralManager{
		air:     a,
		id:      deviceID,
		name:    name,
		queue:   newDispatchQueue(),
		state:   StateUnknown,
		powered: true,
	}

	a.mu.Lock()
	a.peripherals[deviceID] = pm
	a.mu.Unlock()

	pm.queue.after(a.sim.PowerOnDelay(), func() { pm.transition(StatePoweredOn) })
	return pm
}

// SetPowered toggles the adapter of every manager registered for deviceID
func (a *Air) SetPowered(deviceID string, on bool) {
	a.mu.Lock()
	c := a.centrals[deviceID]
	pm := a.peripherals[deviceID]
	a.mu.Unlock()

	if c == nil && pm == nil {
		logger.Warn("air", "SetPowered: %v", fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID))
		return
	}

	if !on {
		a.Disconnect(deviceID, ErrPoweredOff)
	}
	if c != nil {
		c.setPowered(on)
	}
	if pm != nil {
		pm.setPowered(on)
	}
}

// Disconnect drops every connection involving deviceID (interference, distance)
func (a *Air) Disconnect(deviceID string, err error) {
	a.mu.Lock()
	var ids []ConnID
	for id, l := range a.links {
		if l.central.id == deviceID || l.peripheral.id == deviceID {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.dropLink(id, err)
	}
}

// Connected reports whether any connection involves deviceID
func (a *Air) Connected(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range a.links {
		if l.central.id == deviceID || l.peripheral.id == deviceID {
			return true
		}
	}
	return false
}

// Close stops every manager's dispatch queue
func (a *Air) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.centrals {
		c.queue.close()
	}
	for _, pm := range a.peripherals {
		pm.queue.close()
	}
	a.links = make(map[ConnID]*link)
}

func (a *Air) link(id ConnID) *link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.links[id]
}

func (a *Air) rssi(x, y string) int {
	a.mu.Lock()
	fn := a.distance
	a.mu.Unlock()

	d := 1.0
	if fn != nil {
		d = fn(x, y)
	}
	return a.sim.GenerateRSSI(d)
}

// startScan offers every currently advertising peripheral to c
func (a *Air) startScan(c *CentralManager) {
	a.mu.Lock()
	pms := make([]*PeripheralManager, 0, len(a.peripherals))
	for _, pm := range a.peripherals {
		pms = append(pms, pm)
	}
	a.mu.Unlock()

	for _, pm := range pms {
		c.offer(pm)
	}
}

// announce offers a newly advertising peripheral to every scanning central
func (a *Air) announce(pm *PeripheralManager) {
	a.mu.Lock()
	cs := make([]*CentralManager, 0, len(a.centrals))
	for _, c := range a.centrals {
		cs = append(cs, c)
	}
	a.mu.Unlock()

	for _, c := range cs {
		c.offer(pm)
	}
}

// establish completes a connection attempt. Runs on the central's queue.
func (a *Air) establish(c *CentralManager, id ConnID, peer Peer) {
	c.mu.Lock()
	_, pending := c.pending[id]
	delete(c.pending, id)
	powered := c.state == StatePoweredOn
	d := c.delegate
	c.mu.Unlock()

	if !pending {
		// Cancelled before the radio finished connecting
		return
	}

	fail := func(err error) {
		logger.Warn(c.prefix(), "❌ Connection %s to %s failed: %v", id.Short(), shortID(peer.ID), err)
		if d != nil {
			d.DidFailToConnect(id, peer, err)
		}
	}

	if !powered {
		fail(ErrPoweredOff)
		return
	}

	a.mu.Lock()
	pm := a.peripherals[peer.ID]
	a.mu.Unlock()

	if pm == nil {
		fail(fmt.Errorf("%w: %s", ErrUnknownDevice, peer.ID))
		return
	}
	if _, advertising := pm.advertisement(); !advertising || pm.State() != StatePoweredOn {
		fail(fmt.Errorf("%w: peripheral not connectable", ErrConnectionFailed))
		return
	}
	if !a.sim.ShouldConnectionSucceed() {
		fail(ErrConnectionFailed)
		return
	}

	l := &link{
		id:         id,
		central:    c,
		peripheral: pm,
		mtu:        a.sim.Config().DefaultMTU,
	}

	a.mu.Lock()
	a.links[id] = l
	a.mu.Unlock()

	logger.Info(c.prefix(), "🔗 Connected to %s (conn %s, MTU %d)", shortID(peer.ID), id.Short(), l.mtu)

	if d != nil {
		d.DidConnect(id, peer)
	}
	pm.centralConnected(Peer{ID: c.id, Name: c.name})
}

// dropLink tears down one connection and notifies both ends
func (a *Air) dropLink(id ConnID, err error) {
	a.mu.Lock()
	l, ok := a.links[id]
	delete(a.links, id)
	a.mu.Unlock()

	if !ok {
		return
	}

	peer := Peer{ID: l.peripheral.id, Name: l.peripheral.name}
	l.central.queue.async(func() {
		if d := l.central.getDelegate(); d != nil {
			d.DidDisconnect(id, peer, err)
		}
	})
	l.peripheral.centralDisconnected(Peer{ID: l.central.id, Name: l.central.name}, err)
}

// readLong performs a read, continuing with offset reads while the peripheral
// fills whole (MTU-1) chunks. done is called exactly once.
func (a *Air) readLong(conn ConnID, char *Characteristic, offset int, acc []byte, done func([]byte, error)) {
	l := a.link(conn)
	if l == nil {
		done(nil, ErrNotConnected)
		return
	}

	mc := l.peripheral.characteristic(char)
	if mc == nil {
		done(nil, ATTInvalidHandle)
		return
	}

	chunkSize := l.mtu - 1
	var once sync.Once

	req := &ATTRequest{
		Central:        Peer{ID: l.central.id, Name: l.central.name},
		Characteristic: mc,
		Offset:         offset,
		conn:           conn,
	}
	req.respond = func(result ATTError, value []byte) {
		once.Do(func() {
			if a.link(conn) == nil {
				done(nil, ErrNotConnected)
				return
			}
			if result != ATTSuccess {
				done(nil, result)
				return
			}

			chunk := value
			if len(chunk) > chunkSize {
				chunk = chunk[:chunkSize]
			}
			acc = append(acc, chunk...)

			if len(chunk) == chunkSize {
				a.readLong(conn, char, offset+len(chunk), acc, done)
				return
			}
			done(acc, nil)
		})
	}

	l.peripheral.deliverRead(req)
}

// write delivers a single (reassembled) write request to the peripheral
func (a *Air) write(conn ConnID, data []byte, char *Characteristic, writeType WriteType, done func(error)) {
	l := a.link(conn)
	if l == nil {
		if writeType == WriteWithResponse {
			done(ErrNotConnected)
		}
		return
	}

	mc := l.peripheral.characteristic(char)
	if mc == nil {
		if writeType == WriteWithResponse {
			done(ATTInvalidHandle)
		}
		return
	}

	req := &ATTRequest{
		Central:        Peer{ID: l.central.id, Name: l.central.name},
		Characteristic: mc,
		Value:          append([]byte(nil), data...),
		conn:           conn,
	}

	if writeType == WriteWithResponse {
		var once sync.Once
		req.respond = func(result ATTError, _ []byte) {
			once.Do(func() {
				switch {
				case a.link(conn) == nil:
					done(ErrNotConnected)
				case result != ATTSuccess:
					done(result)
				default:
					done(nil)
				}
			})
		}
	}

	l.peripheral.deliverWrites([]*ATTRequest{req})
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
