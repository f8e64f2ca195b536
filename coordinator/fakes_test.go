package coordinator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/radio"
	"github.com/user/nearby-blue/ranging"
)

// opLog records cross-collaborator call order
type opLog struct {
	ops []string
}

func (l *opLog) add(format string, args ...interface{}) {
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

type fakeWrite struct {
	conn      radio.ConnID
	data      []byte
	char      *radio.Characteristic
	writeType radio.WriteType
}

type fakeCentral struct {
	log      *opLog
	state    radio.ManagerState
	delegate radio.CentralDelegate

	scans     int
	stops     int
	connects  []radio.Peer
	conns     []radio.ConnID
	cancels   []radio.ConnID
	discovers []radio.ConnID
	reads     []radio.ConnID
	writes    []fakeWrite
}

func newFakeCentral(log *opLog) *fakeCentral {
	return &fakeCentral{log: log, state: radio.StatePoweredOn}
}

func (c *fakeCentral) ID() string                              { return "initiator-device" }
func (c *fakeCentral) SetDelegate(d radio.CentralDelegate)     { c.delegate = d }
func (c *fakeCentral) State() radio.ManagerState               { return c.state }
func (c *fakeCentral) ScanForPeripherals(services []uuid.UUID) { c.scans++ }
func (c *fakeCentral) StopScan()                               { c.stops++ }

func (c *fakeCentral) Connect(peer radio.Peer) radio.ConnID {
	id := radio.NewConnID()
	c.connects = append(c.connects, peer)
	c.conns = append(c.conns, id)
	return id
}

func (c *fakeCentral) CancelPeripheralConnection(conn radio.ConnID) {
	c.cancels = append(c.cancels, conn)
}

func (c *fakeCentral) DiscoverServices(conn radio.ConnID, services []uuid.UUID) {
	c.discovers = append(c.discovers, conn)
}

func (c *fakeCentral) ReadValue(conn radio.ConnID, char *radio.Characteristic) {
	c.reads = append(c.reads, conn)
}

func (c *fakeCentral) WriteValue(conn radio.ConnID, data []byte, char *radio.Characteristic, writeType radio.WriteType) {
	c.log.add("write")
	c.writes = append(c.writes, fakeWrite{conn: conn, data: data, char: char, writeType: writeType})
}

type fakeResponse struct {
	req    *radio.ATTRequest
	result radio.ATTError
	value  []byte
}

type fakePeripheral struct {
	state       radio.ManagerState
	delegate    radio.PeripheralManagerDelegate
	services    []*radio.MutableService
	advertising bool
	adv         radio.Advertisement
	addErr      error
	responses   []fakeResponse
}

func newFakePeripheral() *fakePeripheral {
	return &fakePeripheral{state: radio.StatePoweredOn}
}

func (p *fakePeripheral) ID() string                                    { return "responder-device" }
func (p *fakePeripheral) SetDelegate(d radio.PeripheralManagerDelegate) { p.delegate = d }
func (p *fakePeripheral) State() radio.ManagerState                     { return p.state }

func (p *fakePeripheral) AddService(s *radio.MutableService) error {
	if p.addErr != nil {
		return p.addErr
	}
	p.services = append(p.services, s)
	return nil
}

func (p *fakePeripheral) RemoveAllServices() error {
	if p.advertising {
		return errors.New("advertising")
	}
	p.services = nil
	return nil
}

func (p *fakePeripheral) StartAdvertising(adv radio.Advertisement) error {
	if p.advertising {
		return radio.ErrAlreadyAdvertising
	}
	p.advertising = true
	p.adv = adv
	return nil
}

func (p *fakePeripheral) StopAdvertising()    { p.advertising = false }
func (p *fakePeripheral) IsAdvertising() bool { return p.advertising }

func (p *fakePeripheral) RespondToRequest(req *radio.ATTRequest, result radio.ATTError) {
	var value []byte
	if req.Value != nil {
		value = append([]byte{}, req.Value...)
	}
	p.responses = append(p.responses, fakeResponse{req: req, result: result, value: value})
}

func (p *fakePeripheral) lastResponse() fakeResponse {
	return p.responses[len(p.responses)-1]
}

type fakeSession struct {
	log         *opLog
	id          uuid.UUID
	token       *ranging.DiscoveryToken
	tokenErr    error
	runs        []*ranging.DiscoveryToken
	invalidated bool
}

func (s *fakeSession) ID() uuid.UUID { return s.id }

func (s *fakeSession) DiscoveryToken() (*ranging.DiscoveryToken, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return s.token, nil
}

func (s *fakeSession) Run(peer *ranging.DiscoveryToken) {
	s.log.add("run")
	s.runs = append(s.runs, peer)
}

func (s *fakeSession) Invalidate() { s.invalidated = true }

type fakeEngine struct {
	log      *opLog
	deviceID string
	sessions []*fakeSession
	tokenErr error
}

func (e *fakeEngine) NewSession(delegate ranging.SessionDelegate) ranging.Session {
	id := uuid.New()
	s := &fakeSession{
		log:      e.log,
		id:       id,
		tokenErr: e.tokenErr,
		token:    &ranging.DiscoveryToken{SessionID: id, DeviceID: e.deviceID, Nonce: id[:4]},
	}
	e.sessions = append(e.sessions, s)
	return s
}

func (e *fakeEngine) last() *fakeSession {
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

func peerToken(deviceID string) *ranging.DiscoveryToken {
	id := uuid.New()
	return &ranging.DiscoveryToken{SessionID: id, DeviceID: deviceID, Nonce: []byte{1, 2, 3}}
}

func mustArchive(t interface{ Fatalf(string, ...interface{}) }, tok *ranging.DiscoveryToken) []byte {
	data, err := ranging.ArchiveToken(tok)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	return data
}
