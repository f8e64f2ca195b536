package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/user/nearby-blue/logger"
	"github.com/user/nearby-blue/radio"
	"github.com/user/nearby-blue/ranging"
)

// Responder advertises the ranging service, serves its token to readers and
// starts ranging with whatever token an Initiator writes.
type Responder struct {
	pm     PeripheralRadio
	box    *mailbox
	prefix string
	name   string

	powered     bool
	advertising bool
	link        ranging.LinkState
	centrals    map[string]radio.Peer
	readChar    *radio.MutableCharacteristic
	writeChar   *radio.MutableCharacteristic
	cache       []byte // archived local token served to readers
	slot        sessionSlot
}

// NewResponder wires a Responder to pm and engine. An empty name advertises
// ranging.DefaultAdvertisedName.
func NewResponder(pm PeripheralRadio, engine ranging.Engine, name string) *Responder {
	if name == "" {
		name = ranging.DefaultAdvertisedName
	}

	prefix := logger.Prefix(pm.ID(), string(ranging.RoleResponder))
	r := &Responder{
		pm:       pm,
		box:      newMailbox(prefix),
		prefix:   prefix,
		name:     name,
		link:     ranging.LinkIdle,
		centrals: make(map[string]radio.Peer),
	}
	r.slot = sessionSlot{engine: engine, delegate: r, prefix: prefix}
	r.box.publish(r.status())
	pm.SetDelegate(r)
	return r
}

// Run processes events until ctx is done
func (r *Responder) Run(ctx context.Context) error {
	return r.box.run(ctx, r.handle, r.status)
}

// Snapshot returns the latest published status
func (r *Responder) Snapshot() ranging.Status { return r.box.snapshot() }

// radio.PeripheralManagerDelegate

func (r *Responder) DidUpdatePeripheralState(state radio.ManagerState) {
	r.box.post(peripheralStateChanged{state: state})
}

func (r *Responder) DidStartAdvertising(err error) {
	r.box.post(advertisingStarted{err: err})
}

func (r *Responder) DidReceiveReadRequest(req *radio.ATTRequest) {
	r.box.post(readRequested{req: req})
}

func (r *Responder) DidReceiveWriteRequests(reqs []*radio.ATTRequest) {
	r.box.post(writeRequested{reqs: reqs})
}

func (r *Responder) CentralDidConnect(central radio.Peer) {
	r.box.post(centralConnected{central: central})
}

func (r *Responder) CentralDidDisconnect(central radio.Peer, err error) {
	r.box.post(centralDisconnected{central: central, err: err})
}

// ranging.SessionDelegate

func (r *Responder) SessionDidUpdate(s ranging.Session, sample ranging.DistanceSample) {
	r.box.post(distanceUpdated{session: s, sample: sample})
}

func (r *Responder) SessionWasSuspended(s ranging.Session) {
	r.box.post(sessionSuspended{session: s})
}

func (r *Responder) SessionSuspensionEnded(s ranging.Session) {
	r.box.post(sessionResumed{session: s})
}

func (r *Responder) SessionDidInvalidate(s ranging.Session, err error) {
	r.box.post(sessionInvalidated{session: s, err: err})
}

func (r *Responder) status() ranging.Status {
	st := ranging.Status{
		Role:      ranging.RoleResponder,
		PoweredOn: r.powered,
		Link:      r.link,
	}
	if r.slot.peer != nil {
		st.PeerID = r.slot.peer.DeviceID
	}
	r.slot.fill(&st)
	return st
}

func (r *Responder) handle(ev event) {
	switch e := ev.(type) {
	case peripheralStateChanged:
		r.stateChanged(e.state)
	case advertisingStarted:
		if e.err != nil {
			logger.Warn(r.prefix, "❌ Advertising failed: %v", e.err)
		}
	case readRequested:
		r.readRequested(e.req)
	case writeRequested:
		r.writeRequested(e.reqs)
	case centralConnected:
		r.centralConnected(e.central)
	case centralDisconnected:
		r.centralDisconnected(e.central, e.err)
	case distanceUpdated:
		r.distanceUpdated(e)
	case sessionSuspended:
		r.suspended(e.session)
	case sessionResumed:
		r.resumed(e.session)
	case sessionInvalidated:
		r.invalidated(e)
	default:
		logger.Warn(r.prefix, "⚠️  Unhandled event %s", ev.eventName())
	}
}

func (r *Responder) setLink(state ranging.LinkState) {
	if r.link == state {
		return
	}
	logger.Info(r.prefix, "🔄 Link %s -> %s", r.link, state)
	r.link = state
}

func (r *Responder) stateChanged(state radio.ManagerState) {
	logger.Info(r.prefix, "📶 Adapter %s", state)

	if state != radio.StatePoweredOn {
		r.powered = false
		r.pm.StopAdvertising()
		r.advertising = false
		r.centrals = make(map[string]radio.Peer)
		r.setLink(ranging.LinkIdle)
		return
	}

	r.powered = true
	r.publishService()
}

// publishService registers the two token endpoints, advertises them and
// publishes a fresh session's token
func (r *Responder) publishService() {
	r.readChar = &radio.MutableCharacteristic{
		UUID:        ranging.ResponderTokenUUID,
		Properties:  radio.PropertyRead,
		Permissions: radio.PermissionReadable,
	}
	r.writeChar = &radio.MutableCharacteristic{
		UUID:        ranging.InitiatorTokenUUID,
		Properties:  radio.PropertyWrite,
		Permissions: radio.PermissionWriteable,
	}
	service := &radio.MutableService{
		UUID:            ranging.ServiceUUID,
		IsPrimary:       true,
		Characteristics: []*radio.MutableCharacteristic{r.readChar, r.writeChar},
	}

	if r.pm.IsAdvertising() {
		r.pm.StopAdvertising()
	}
	if err := r.pm.RemoveAllServices(); err != nil {
		logger.Warn(r.prefix, "⚠️  Could not clear services: %v", err)
	}
	if err := r.pm.AddService(service); err != nil {
		logger.Error(r.prefix, "❌ Could not add ranging service: %v", err)
		return
	}

	adv := radio.Advertisement{LocalName: r.name, ServiceUUIDs: []uuid.UUID{ranging.ServiceUUID}}
	if err := r.pm.StartAdvertising(adv); err != nil && !errors.Is(err, radio.ErrAlreadyAdvertising) {
		logger.Error(r.prefix, "❌ Could not advertise: %v", err)
		return
	}
	r.advertising = true
	logger.DebugJSON(r.prefix, "advertisement", adv.Map())

	r.slot.state = ranging.SessionNotStarted
	r.slot.renew()
	r.refreshCache()

	if len(r.centrals) == 0 {
		r.setLink(ranging.LinkAdvertising)
	}
}

// refreshCache archives the current local token into the read value
func (r *Responder) refreshCache() {
	data, err := r.slot.archivedToken()
	if err != nil {
		logger.Warn(r.prefix, "❌ Cannot archive local token: %v", err)
		return
	}
	r.cache = data
	if r.readChar != nil {
		r.readChar.Value = data
	}
	logger.Debug(r.prefix, "📝 Published local token %s", r.slot.token)
}

func (r *Responder) readRequested(req *radio.ATTRequest) {
	result := r.serveRead(req)
	if result != radio.ATTSuccess {
		logger.Warn(r.prefix, "⚠️  Read %s rejected: %v", req, result)
	}
	r.pm.RespondToRequest(req, result)
}

func (r *Responder) serveRead(req *radio.ATTRequest) radio.ATTError {
	if req.Characteristic == nil || req.Characteristic.UUID != ranging.ResponderTokenUUID {
		return radio.ATTRequestNotSupported
	}
	if len(r.cache) == 0 {
		return radio.ATTAttributeNotFound
	}
	if req.Offset < 0 || req.Offset > len(r.cache) {
		return radio.ATTInvalidOffset
	}

	req.Value = r.cache[req.Offset:]
	logger.Trace(r.prefix, "📖 Served %d bytes at offset %d", len(req.Value), req.Offset)
	return radio.ATTSuccess
}

func (r *Responder) writeRequested(reqs []*radio.ATTRequest) {
	for _, req := range reqs {
		result := r.acceptWrite(req)
		if result != radio.ATTSuccess {
			logger.Warn(r.prefix, "⚠️  Write %s rejected: %v", req, result)
		}
		r.pm.RespondToRequest(req, result)
	}
}

// acceptWrite takes the Initiator's token. The write succeeds at the ATT
// level even when the payload is not a usable token.
func (r *Responder) acceptWrite(req *radio.ATTRequest) radio.ATTError {
	if req.Characteristic == nil || req.Characteristic.UUID != ranging.InitiatorTokenUUID || req.Value == nil {
		return radio.ATTRequestNotSupported
	}

	req.Characteristic.Value = append([]byte(nil), req.Value...)

	peer, err := ranging.UnarchiveToken(req.Value)
	if err != nil {
		logger.Warn(r.prefix, "❌ Initiator token unusable: %v", err)
		return radio.ATTSuccess
	}

	logger.Info(r.prefix, "📥 Received Initiator token %s", peer)
	r.slot.run(peer)
	if r.link < ranging.LinkTokenExchanged {
		r.setLink(ranging.LinkTokenExchanged)
	}
	return radio.ATTSuccess
}

func (r *Responder) centralConnected(central radio.Peer) {
	logger.Info(r.prefix, "🔗 Central %s connected", central.Name)
	r.centrals[central.ID] = central
	if r.link < ranging.LinkConnected {
		r.setLink(ranging.LinkConnected)
	}
}

func (r *Responder) centralDisconnected(central radio.Peer, err error) {
	logger.Info(r.prefix, "🔌 Central %s disconnected: %v", central.Name, err)
	delete(r.centrals, central.ID)
	if len(r.centrals) > 0 {
		return
	}

	if r.advertising {
		r.setLink(ranging.LinkAdvertising)
	} else {
		r.setLink(ranging.LinkIdle)
	}
}

func (r *Responder) distanceUpdated(e distanceUpdated) {
	if !r.slot.updateDistance(e.session, e.sample) {
		logger.Trace(r.prefix, "🗑️  Dropping sample from old session")
		return
	}
	logger.Trace(r.prefix, "📏 %s", e.sample)
	if r.link == ranging.LinkTokenExchanged {
		r.setLink(ranging.LinkRanging)
	}
}

func (r *Responder) suspended(s ranging.Session) {
	if !r.slot.isCurrent(s) {
		return
	}
	logger.Info(r.prefix, "⏸️  Session suspended")
	r.slot.state = ranging.SessionSuspended
}

func (r *Responder) resumed(s ranging.Session) {
	if !r.slot.isCurrent(s) {
		return
	}
	logger.Info(r.prefix, "▶️  Session resumed")
	if r.slot.state == ranging.SessionSuspended {
		r.slot.state = ranging.SessionRunning
	}
	r.refreshCache()
}

func (r *Responder) invalidated(e sessionInvalidated) {
	if !r.slot.isCurrent(e.session) {
		return
	}
	logger.Warn(r.prefix, "💥 Session invalidated: %v", e.err)

	r.slot.state = ranging.SessionInvalidated
	r.slot.renew()
	r.refreshCache()
}
