package coordinator

import (
	"context"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/radio"
	"github.com/user/nearby-blue/ranging"
)

// Initiator scans for a Responder, connects, reads its token, starts ranging
// and writes its own token back.
//
// Every radio and engine callback becomes an event on one mailbox; Run is the
// only goroutine that reads or writes the fields below mailbox.
type Initiator struct {
	central CentralRadio
	box     *mailbox
	prefix  string

	powered   bool
	link      ranging.LinkState
	peer      *radio.Peer
	conn      radio.ConnID
	readChar  *radio.Characteristic
	writeChar *radio.Characteristic
	slot      sessionSlot
}

// NewInitiator wires an Initiator to central and engine. It installs itself as
// the central's delegate; nothing is processed until Run is called.
func NewInitiator(central CentralRadio, engine ranging.Engine) *Initiator {
	prefix := logger.Prefix(central.ID(), string(ranging.RoleInitiator))
	i := &Initiator{
		central: central,
		box:     newMailbox(prefix),
		prefix:  prefix,
		link:    ranging.LinkIdle,
	}
	i.slot = sessionSlot{engine: engine, delegate: i, prefix: prefix}
	i.box.publish(i.status())
	central.SetDelegate(i)
	return i
}

// Run processes events until ctx is done
func (i *Initiator) Run(ctx context.Context) error {
	return i.box.run(ctx, i.handle, i.status)
}

// StartScan begins discovery of Responders. Ignored unless powered on.
func (i *Initiator) StartScan() { i.box.post(startScanRequested{}) }

// StopScan stops discovery. Safe to call at any time.
func (i *Initiator) StopScan() { i.box.post(stopScanRequested{}) }

// Disconnect drops the current connection or connection attempt
func (i *Initiator) Disconnect() { i.box.post(disconnectRequested{}) }

// Snapshot returns the latest published status
func (i *Initiator) Snapshot() ranging.Status { return i.box.snapshot() }

// radio.CentralDelegate

func (i *Initiator) DidUpdateState(state radio.ManagerState) {
	i.box.post(centralStateChanged{state: state})
}

func (i *Initiator) DidDiscoverPeripheral(peer radio.Peer, adv radio.Advertisement, rssi int) {
	i.box.post(peerDiscovered{peer: peer, adv: adv, rssi: rssi})
}

func (i *Initiator) DidConnect(conn radio.ConnID, peer radio.Peer) {
	i.box.post(connected{conn: conn, peer: peer})
}

func (i *Initiator) DidFailToConnect(conn radio.ConnID, peer radio.Peer, err error) {
	i.box.post(connectFailed{conn: conn, peer: peer, err: err})
}

func (i *Initiator) DidDisconnect(conn radio.ConnID, peer radio.Peer, err error) {
	i.box.post(disconnected{conn: conn, peer: peer, err: err})
}

func (i *Initiator) DidDiscoverServices(conn radio.ConnID, services []*radio.Service, err error) {
	i.box.post(endpointsDiscovered{conn: conn, services: services, err: err})
}

func (i *Initiator) DidUpdateValue(conn radio.ConnID, char *radio.Characteristic, value []byte, err error) {
	i.box.post(valueRead{conn: conn, char: char, value: value, err: err})
}

func (i *Initiator) DidWriteValue(conn radio.ConnID, char *radio.Characteristic, err error) {
	i.box.post(valueWritten{conn: conn, char: char, err: err})
}

// ranging.SessionDelegate

func (i *Initiator) SessionDidUpdate(s ranging.Session, sample ranging.DistanceSample) {
	i.box.post(distanceUpdated{session: s, sample: sample})
}

func (i *Initiator) SessionWasSuspended(s ranging.Session) {
	i.box.post(sessionSuspended{session: s})
}

func (i *Initiator) SessionSuspensionEnded(s ranging.Session) {
	i.box.post(sessionResumed{session: s})
}

func (i *Initiator) SessionDidInvalidate(s ranging.Session, err error) {
	i.box.post(sessionInvalidated{session: s, err: err})
}

func (i *Initiator) status() ranging.Status {
	st := ranging.Status{
		Role:      ranging.RoleInitiator,
		PoweredOn: i.powered,
		Link:      i.link,
	}
	if i.peer != nil {
		st.PeerID = i.peer.ID
	}
	i.slot.fill(&st)
	return st
}

func (i *Initiator) handle(ev event) {
	switch e := ev.(type) {
	case startScanRequested:
		i.startScan()
	case stopScanRequested:
		i.stopScan()
	case disconnectRequested:
		i.disconnect()
	case centralStateChanged:
		i.stateChanged(e.state)
	case peerDiscovered:
		i.peerDiscovered(e)
	case connected:
		i.connected(e)
	case connectFailed:
		i.connectFailed(e)
	case endpointsDiscovered:
		i.endpointsDiscovered(e)
	case valueRead:
		i.valueRead(e)
	case valueWritten:
		i.valueWritten(e)
	case disconnected:
		i.disconnected(e)
	case distanceUpdated:
		i.distanceUpdated(e)
	case sessionSuspended:
		i.suspended(e.session)
	case sessionResumed:
		i.resumed(e.session)
	case sessionInvalidated:
		i.invalidated(e)
	default:
		logger.Warn(i.prefix, "⚠️  Unhandled event %s", ev.eventName())
	}
}

func (i *Initiator) setLink(state ranging.LinkState) {
	if i.link == state {
		return
	}
	logger.Info(i.prefix, "🔄 Link %s -> %s", i.link, state)
	i.link = state
}

// stale reports whether conn belongs to an earlier connection attempt
func (i *Initiator) stale(conn radio.ConnID, what string) bool {
	if conn == i.conn && conn != radio.NoConn {
		return false
	}
	logger.Trace(i.prefix, "🗑️  Dropping stale %s for conn %s (current %s)", what, conn.Short(), i.conn.Short())
	return true
}

func (i *Initiator) startScan() {
	if !i.powered {
		logger.Warn(i.prefix, "⚠️  Cannot scan: adapter is %s", i.central.State())
		return
	}
	if i.peer != nil {
		logger.Debug(i.prefix, "Already tracking %s, not scanning", i.peer.Name)
		return
	}

	i.central.ScanForPeripherals([]uuid.UUID{ranging.ServiceUUID})
	i.setLink(ranging.LinkScanning)
	logger.Info(i.prefix, "🔍 Scanning for ranging service")
}

func (i *Initiator) stopScan() {
	i.central.StopScan()
	if i.link == ranging.LinkScanning && i.peer == nil {
		i.setLink(ranging.LinkIdle)
	}
}

func (i *Initiator) disconnect() {
	if i.conn == radio.NoConn {
		logger.Debug(i.prefix, "Disconnect: no connection")
		return
	}

	logger.Info(i.prefix, "🔌 Disconnecting from %s", i.peer.Name)
	i.central.CancelPeripheralConnection(i.conn)
	i.resetLink()
}

func (i *Initiator) stateChanged(state radio.ManagerState) {
	i.powered = state == radio.StatePoweredOn
	logger.Info(i.prefix, "📶 Adapter %s", state)

	if !i.powered && i.link == ranging.LinkScanning && i.peer == nil {
		i.setLink(ranging.LinkIdle)
	}
}

func (i *Initiator) peerDiscovered(e peerDiscovered) {
	if i.link != ranging.LinkScanning || i.peer != nil {
		logger.Trace(i.prefix, "Ignoring discovery of %s while %s", e.peer.Name, i.link)
		logger.TraceJSON(i.prefix, "ignored advertisement", e.adv.Map())
		return
	}

	logger.Info(i.prefix, "📱 Discovered %s (RSSI %d)", e.peer.Name, e.rssi)
	logger.DebugJSON(i.prefix, "advertisement", e.adv.Map())

	i.central.StopScan()
	peer := e.peer
	i.peer = &peer
	i.conn = i.central.Connect(peer)
}

func (i *Initiator) connected(e connected) {
	if i.stale(e.conn, "connect") {
		return
	}

	i.setLink(ranging.LinkConnected)
	i.central.DiscoverServices(e.conn, []uuid.UUID{ranging.ServiceUUID})
	i.slot.state = ranging.SessionNotStarted
	i.slot.renew()
}

func (i *Initiator) connectFailed(e connectFailed) {
	if i.stale(e.conn, "connect failure") {
		return
	}

	logger.Warn(i.prefix, "❌ Failed to connect to %s: %v", e.peer.Name, e.err)
	i.resetLink()
}

func (i *Initiator) endpointsDiscovered(e endpointsDiscovered) {
	if i.stale(e.conn, "service discovery") {
		return
	}
	if e.err != nil {
		logger.Warn(i.prefix, "❌ Service discovery failed: %v", e.err)
		return
	}

	for _, svc := range e.services {
		if svc.UUID != ranging.ServiceUUID {
			continue
		}
		for _, char := range svc.Characteristics {
			switch char.UUID {
			case ranging.ResponderTokenUUID:
				i.readChar = char
			case ranging.InitiatorTokenUUID:
				i.writeChar = char
			}
		}
	}

	if i.readChar == nil {
		logger.Warn(i.prefix, "❌ Responder token characteristic not found")
		return
	}

	i.setLink(ranging.LinkEndpointsDiscovered)
	logger.Debug(i.prefix, "📖 Reading Responder token")
	i.central.ReadValue(e.conn, i.readChar)
}

func (i *Initiator) valueRead(e valueRead) {
	if i.stale(e.conn, "read") {
		return
	}
	if e.char == nil || e.char.UUID != ranging.ResponderTokenUUID {
		return
	}
	if e.err != nil {
		logger.Warn(i.prefix, "❌ Reading Responder token failed: %v", e.err)
		return
	}

	peer, err := ranging.UnarchiveToken(e.value)
	if err != nil {
		logger.Warn(i.prefix, "❌ Responder token unusable: %v", err)
		return
	}
	logger.Info(i.prefix, "📥 Received Responder token %s", peer)

	// Arm the local session before the Responder can see our token
	i.slot.run(peer)
	i.writeLocalToken()
	i.setLink(ranging.LinkTokenExchanged)
}

// writeLocalToken sends the current local token to the Responder, if there is
// a connection and a handle to write to
func (i *Initiator) writeLocalToken() {
	if i.writeChar == nil || i.conn == radio.NoConn {
		logger.Debug(i.prefix, "No Initiator token endpoint, not writing")
		return
	}

	data, err := i.slot.archivedToken()
	if err != nil {
		logger.Warn(i.prefix, "❌ Cannot archive local token: %v", err)
		return
	}

	logger.Info(i.prefix, "📤 Writing local token %s", i.slot.token)
	i.central.WriteValue(i.conn, data, i.writeChar, radio.WriteWithResponse)
}

func (i *Initiator) valueWritten(e valueWritten) {
	if i.stale(e.conn, "write") {
		return
	}
	if e.err != nil {
		logger.Warn(i.prefix, "❌ Writing local token failed: %v", e.err)
		return
	}
	logger.Debug(i.prefix, "✅ Local token delivered")
}

func (i *Initiator) disconnected(e disconnected) {
	if i.stale(e.conn, "disconnect") {
		return
	}

	logger.Info(i.prefix, "🔌 Disconnected from %s: %v", e.peer.Name, e.err)
	i.resetLink()
}

// resetLink forgets the peer and its endpoints. The session is left alone.
func (i *Initiator) resetLink() {
	i.peer = nil
	i.conn = radio.NoConn
	i.readChar = nil
	i.writeChar = nil
	i.setLink(ranging.LinkIdle)
}

func (i *Initiator) distanceUpdated(e distanceUpdated) {
	if !i.slot.updateDistance(e.session, e.sample) {
		logger.Trace(i.prefix, "🗑️  Dropping sample from old session")
		return
	}
	logger.Trace(i.prefix, "📏 %s", e.sample)
	if i.link == ranging.LinkTokenExchanged {
		i.setLink(ranging.LinkRanging)
	}
}

func (i *Initiator) suspended(s ranging.Session) {
	if !i.slot.isCurrent(s) {
		return
	}
	logger.Info(i.prefix, "⏸️  Session suspended")
	i.slot.state = ranging.SessionSuspended
}

func (i *Initiator) resumed(s ranging.Session) {
	if !i.slot.isCurrent(s) {
		return
	}
	logger.Info(i.prefix, "▶️  Session resumed")
	if i.slot.state == ranging.SessionSuspended {
		i.slot.state = ranging.SessionRunning
	}
	i.writeLocalToken()
}

func (i *Initiator) invalidated(e sessionInvalidated) {
	if !i.slot.isCurrent(e.session) {
		return
	}
	logger.Warn(i.prefix, "💥 Session invalidated: %v", e.err)

	i.slot.state = ranging.SessionInvalidated
	i.slot.renew()
	// The replacement token goes out on the next resume or reconnect
}
