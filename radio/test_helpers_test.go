package radio

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	testServiceUUID = uuid.MustParse("e621e1f8-c36c-495a-93fc-0c247a3e6e5f")
	testReadUUID    = uuid.MustParse("e621e1f8-c36c-495a-93fc-0c247a3e6e5d")
	testWriteUUID   = uuid.MustParse("e621e1f8-c36c-495a-93fc-0c247a3e6e5e")
)

const waitTimeout = 2 * time.Second

type valueResult struct {
	conn  ConnID
	value []byte
	err   error
}

type testCentralDelegate struct {
	states        chan ManagerState
	discovered    chan Peer
	connected     chan ConnID
	failed        chan error
	disconnected  chan ConnID
	services      chan []*Service
	serviceErrors chan error
	values        chan valueResult
	writes        chan error
}

func newTestCentralDelegate() *testCentralDelegate {
	return &testCentralDelegate{
		states:        make(chan ManagerState, 8),
		discovered:    make(chan Peer, 8),
		connected:     make(chan ConnID, 8),
		failed:        make(chan error, 8),
		disconnected:  make(chan ConnID, 8),
		services:      make(chan []*Service, 8),
		serviceErrors: make(chan error, 8),
		values:        make(chan valueResult, 8),
		writes:        make(chan error, 8),
	}
}

func (d *testCentralDelegate) DidUpdateState(state ManagerState) { d.states <- state }

func (d *testCentralDelegate) DidDiscoverPeripheral(peer Peer, adv Advertisement, rssi int) {
	d.discovered <- peer
}

func (d *testCentralDelegate) DidConnect(conn ConnID, peer Peer) { d.connected <- conn }

func (d *testCentralDelegate) DidFailToConnect(conn ConnID, peer Peer, err error) { d.failed <- err }

func (d *testCentralDelegate) DidDisconnect(conn ConnID, peer Peer, err error) {
	d.disconnected <- conn
}

func (d *testCentralDelegate) DidDiscoverServices(conn ConnID, services []*Service, err error) {
	if err != nil {
		d.serviceErrors <- err
		return
	}
	d.services <- services
}

func (d *testCentralDelegate) DidUpdateValue(conn ConnID, char *Characteristic, value []byte, err error) {
	d.values <- valueResult{conn: conn, value: value, err: err}
}

func (d *testCentralDelegate) DidWriteValue(conn ConnID, char *Characteristic, err error) {
	d.writes <- err
}

// testPeripheralDelegate serves reads from a fixed value and records offsets
type testPeripheralDelegate struct {
	pm *PeripheralManager

	mu         sync.Mutex
	value      []byte
	readResult ATTError
	offsets    []int
	written    [][]byte

	states        chan ManagerState
	connects      chan Peer
	disconnects   chan Peer
	writeRequests chan []byte
}

func newTestPeripheralDelegate(pm *PeripheralManager, value []byte) *testPeripheralDelegate {
	return &testPeripheralDelegate{
		pm:            pm,
		value:         value,
		states:        make(chan ManagerState, 8),
		connects:      make(chan Peer, 8),
		disconnects:   make(chan Peer, 8),
		writeRequests: make(chan []byte, 8),
	}
}

func (d *testPeripheralDelegate) DidUpdatePeripheralState(state ManagerState) { d.states <- state }

func (d *testPeripheralDelegate) DidStartAdvertising(err error) {}

func (d *testPeripheralDelegate) DidReceiveReadRequest(req *ATTRequest) {
	d.mu.Lock()
	d.offsets = append(d.offsets, req.Offset)
	value := d.value
	result := d.readResult
	d.mu.Unlock()

	if result != ATTSuccess {
		d.pm.RespondToRequest(req, result)
		return
	}
	if req.Offset > len(value) {
		d.pm.RespondToRequest(req, ATTInvalidOffset)
		return
	}
	req.Value = value[req.Offset:]
	d.pm.RespondToRequest(req, ATTSuccess)
}

func (d *testPeripheralDelegate) DidReceiveWriteRequests(reqs []*ATTRequest) {
	for _, req := range reqs {
		d.mu.Lock()
		d.written = append(d.written, req.Value)
		d.mu.Unlock()
		d.writeRequests <- req.Value
		d.pm.RespondToRequest(req, ATTSuccess)
	}
}

func (d *testPeripheralDelegate) CentralDidConnect(central Peer) { d.connects <- central }

func (d *testPeripheralDelegate) CentralDidDisconnect(central Peer, err error) {
	d.disconnects <- central
}

func (d *testPeripheralDelegate) readOffsets() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.offsets...)
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func waitForState(t *testing.T, ch <-chan ManagerState, want ManagerState) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// setupPair creates a powered, advertising peripheral and a powered central
func setupPair(t *testing.T, cfg *SimulationConfig, value []byte) (*Air, *CentralManager, *testCentralDelegate, *PeripheralManager, *testPeripheralDelegate) {
	t.Helper()

	air := NewAir(cfg)
	t.Cleanup(air.Close)

	pm := air.NewPeripheralManager("peripheral-1", "Responder")
	pd := newTestPeripheralDelegate(pm, value)
	pm.SetDelegate(pd)
	waitForState(t, pd.states, StatePoweredOn)

	service := &MutableService{
		UUID:      testServiceUUID,
		IsPrimary: true,
		Characteristics: []*MutableCharacteristic{
			{UUID: testReadUUID, Properties: PropertyRead, Permissions: PermissionReadable},
			{UUID: testWriteUUID, Properties: PropertyWrite, Permissions: PermissionWriteable},
		},
	}
	if err := pm.AddService(service); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := pm.StartAdvertising(Advertisement{LocalName: "MyPeripheral", ServiceUUIDs: []uuid.UUID{testServiceUUID}}); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}

	c := air.NewCentral("central-1", "Initiator")
	cd := newTestCentralDelegate()
	c.SetDelegate(cd)
	waitForState(t, cd.states, StatePoweredOn)

	return air, c, cd, pm, pd
}

// connectAndDiscover runs scan -> connect -> discover and returns the two characteristics
func connectAndDiscover(t *testing.T, c *CentralManager, cd *testCentralDelegate) (ConnID, *Characteristic, *Characteristic) {
	t.Helper()

	c.ScanForPeripherals([]uuid.UUID{testServiceUUID})
	peer := recv(t, cd.discovered, "discovery")
	c.StopScan()

	conn := c.Connect(peer)
	if got := recv(t, cd.connected, "connect"); got != conn {
		t.Fatalf("connected with tag %s, want %s", got, conn)
	}

	c.DiscoverServices(conn, []uuid.UUID{testServiceUUID})
	services := recv(t, cd.services, "service discovery")
	if len(services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(services))
	}

	var readChar, writeChar *Characteristic
	for _, ch := range services[0].Characteristics {
		switch ch.UUID {
		case testReadUUID:
			readChar = ch
		case testWriteUUID:
			writeChar = ch
		}
	}
	if readChar == nil || writeChar == nil {
		t.Fatalf("missing characteristics in %+v", services[0].Characteristics)
	}
	return conn, readChar, writeChar
}
