package radio

import (
	"sync"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/logger"
)

// CentralDelegate matches CBCentralManagerDelegate plus the CBPeripheralDelegate
// callbacks the ranging handshake needs. Calls arrive serially on the
// manager's dispatch queue.
type CentralDelegate interface {
	DidUpdateState(state ManagerState)
	DidDiscoverPeripheral(peer Peer, adv Advertisement, rssi int)
	DidConnect(conn ConnID, peer Peer)
	DidFailToConnect(conn ConnID, peer Peer, err error)
	DidDisconnect(conn ConnID, peer Peer, err error)
	DidDiscoverServices(conn ConnID, services []*Service, err error)
	DidUpdateValue(conn ConnID, char *Characteristic, value []byte, err error)
	DidWriteValue(conn ConnID, char *Characteristic, err error)
}

// CentralManager scans for and connects to peripherals
type CentralManager struct {
	air   *Air
	id    string
	name  string
	queue *dispatchQueue

	mu         sync.Mutex
	delegate   CentralDelegate
	state      ManagerState
	powered    bool
	scanning   bool
	scanFilter []uuid.UUID
	seen       map[string]bool
	pending    map[ConnID]Peer
}

// ID returns the local device id
func (c *CentralManager) ID() string {
	return c.id
}

func (c *CentralManager) prefix() string {
	return logger.Prefix(c.id, "Central")
}

// SetDelegate installs the delegate. If the adapter already left the unknown
// state, the delegate is told the current state once.
func (c *CentralManager) SetDelegate(d CentralDelegate) {
	c.mu.Lock()
	c.delegate = d
	state := c.state
	c.mu.Unlock()

	if d != nil && state != StateUnknown {
		c.queue.async(func() { d.DidUpdateState(state) })
	}
}

func (c *CentralManager) getDelegate() CentralDelegate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate
}

// State returns the adapter state
func (c *CentralManager) State() ManagerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition runs on the queue and notifies the delegate of a state change
func (c *CentralManager) transition(state ManagerState) {
	c.mu.Lock()
	if state == StatePoweredOn && !c.powered {
		c.mu.Unlock()
		return
	}
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	d := c.delegate
	c.mu.Unlock()

	logger.Debug(c.prefix(), "📶 Adapter state: %s", state)
	if d != nil {
		d.DidUpdateState(state)
	}
}

func (c *CentralManager) setPowered(on bool) {
	c.mu.Lock()
	c.powered = on
	if !on {
		c.scanning = false
		c.pending = make(map[ConnID]Peer)
	}
	c.mu.Unlock()

	if on {
		c.queue.after(c.air.sim.PowerOnDelay(), func() { c.transition(StatePoweredOn) })
	} else {
		c.queue.async(func() { c.transition(StatePoweredOff) })
	}
}

// ScanForPeripherals starts discovery filtered to services (nil means any).
// Ignored unless the adapter is powered on.
func (c *CentralManager) ScanForPeripherals(services []uuid.UUID) {
	c.mu.Lock()
	if c.state != StatePoweredOn {
		state := c.state
		c.mu.Unlock()
		logger.Warn(c.prefix(), "⚠️  Cannot scan while adapter is %s", state)
		return
	}
	c.scanning = true
	c.scanFilter = append([]uuid.UUID(nil), services...)
	c.seen = make(map[string]bool)
	c.mu.Unlock()

	logger.Debug(c.prefix(), "🔍 Scanning for %d service(s)", len(services))
	c.air.startScan(c)
}

// StopScan stops discovery. Safe to call when not scanning.
func (c *CentralManager) StopScan() {
	c.mu.Lock()
	was := c.scanning
	c.scanning = false
	c.mu.Unlock()

	if was {
		logger.Debug(c.prefix(), "🛑 Stopped scanning")
	}
}

// IsScanning reports whether discovery is active
func (c *CentralManager) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

func (c *CentralManager) matches(adv Advertisement) bool {
	if len(c.scanFilter) == 0 {
		return true
	}
	for _, s := range c.scanFilter {
		if adv.Advertises(s) {
			return true
		}
	}
	return false
}

// offer schedules discovery of pm if it matches the active scan.
// Each peripheral is reported at most once per scan.
func (c *CentralManager) offer(pm *PeripheralManager) {
	if pm.id == c.id {
		return
	}

	adv, advertising := pm.advertisement()
	if !advertising {
		return
	}

	c.mu.Lock()
	if !c.scanning || c.seen[pm.id] || !c.matches(adv) {
		c.mu.Unlock()
		return
	}
	c.seen[pm.id] = true
	c.mu.Unlock()

	c.queue.after(c.air.sim.DiscoveryDelay(), func() {
		c.mu.Lock()
		scanning := c.scanning
		d := c.delegate
		c.mu.Unlock()

		if !scanning || d == nil {
			return
		}
		if _, still := pm.advertisement(); !still {
			c.mu.Lock()
			delete(c.seen, pm.id)
			c.mu.Unlock()
			return
		}

		name := adv.LocalName
		if name == "" {
			name = "Unknown Device"
		}
		d.DidDiscoverPeripheral(Peer{ID: pm.id, Name: name}, adv, c.air.rssi(c.id, pm.id))
	})
}

// Connect starts a connection attempt and returns its tag right away.
// The outcome arrives as DidConnect or DidFailToConnect carrying the same tag.
func (c *CentralManager) Connect(peer Peer) ConnID {
	id := NewConnID()

	c.mu.Lock()
	c.pending[id] = peer
	c.mu.Unlock()

	logger.Debug(c.prefix(), "🔌 Connecting to %s (conn %s)", shortID(peer.ID), id.Short())
	c.queue.after(c.air.sim.ConnectionDelay(), func() { c.air.establish(c, id, peer) })
	return id
}

// CancelPeripheralConnection cancels a pending attempt or drops a live connection
func (c *CentralManager) CancelPeripheralConnection(conn ConnID) {
	c.mu.Lock()
	delete(c.pending, conn)
	c.mu.Unlock()

	c.air.dropLink(conn, nil)
}

// DiscoverServices lists the peer's services, filtered to services (nil means all),
// with their characteristics.
func (c *CentralManager) DiscoverServices(conn ConnID, services []uuid.UUID) {
	c.queue.after(c.air.sim.ServiceDiscoveryDelay(), func() {
		d := c.getDelegate()
		if d == nil {
			return
		}

		l := c.air.link(conn)
		if l == nil {
			d.DidDiscoverServices(conn, nil, ErrNotConnected)
			return
		}
		d.DidDiscoverServices(conn, l.peripheral.snapshotServices(services), nil)
	})
}

// ReadValue reads the full value of char, using offset reads for long values
func (c *CentralManager) ReadValue(conn ConnID, char *Characteristic) {
	c.air.readLong(conn, char, 0, nil, func(value []byte, err error) {
		c.queue.async(func() {
			if d := c.getDelegate(); d != nil {
				d.DidUpdateValue(conn, char, value, err)
			}
		})
	})
}

// WriteValue writes data to char. WriteWithResponse reports through DidWriteValue.
func (c *CentralManager) WriteValue(conn ConnID, data []byte, char *Characteristic, writeType WriteType) {
	c.air.write(conn, data, char, writeType, func(err error) {
		c.queue.async(func() {
			if d := c.getDelegate(); d != nil {
				d.DidWriteValue(conn, char, err)
			}
		})
	})
}
