package coordinator

import (
	"github.com/user/nearby-blue/radio"
	"github.com/user/nearby-blue/ranging"
)

// event is anything a coordinator loop consumes. Radio and engine callbacks
// are converted into these on arrival; nothing else touches coordinator state.
type event interface {
	eventName() string
}

// Commands from the application

type startScanRequested struct{}
type stopScanRequested struct{}
type disconnectRequested struct{}

// Central-side radio events

type centralStateChanged struct{ state radio.ManagerState }

type peerDiscovered struct {
	peer radio.Peer
	adv  radio.Advertisement
	rssi int
}

type connected struct {
	conn radio.ConnID
	peer radio.Peer
}

type connectFailed struct {
	conn radio.ConnID
	peer radio.Peer
	err  error
}

type disconnected struct {
	conn radio.ConnID
	peer radio.Peer
	err  error
}

type endpointsDiscovered struct {
	conn     radio.ConnID
	services []*radio.Service
	err      error
}

type valueRead struct {
	conn  radio.ConnID
	char  *radio.Characteristic
	value []byte
	err   error
}

type valueWritten struct {
	conn radio.ConnID
	char *radio.Characteristic
	err  error
}

// Peripheral-side radio events

type peripheralStateChanged struct{ state radio.ManagerState }
type advertisingStarted struct{ err error }
type readRequested struct{ req *radio.ATTRequest }
type writeRequested struct{ reqs []*radio.ATTRequest }
type centralConnected struct{ central radio.Peer }

type centralDisconnected struct {
	central radio.Peer
	err     error
}

// Engine events

type distanceUpdated struct {
	session ranging.Session
	sample  ranging.DistanceSample
}

type sessionSuspended struct{ session ranging.Session }
type sessionResumed struct{ session ranging.Session }

type sessionInvalidated struct {
	session ranging.Session
	err     error
}

func (startScanRequested) eventName() string     { return "startScan" }
func (stopScanRequested) eventName() string      { return "stopScan" }
func (disconnectRequested) eventName() string    { return "disconnect" }
func (centralStateChanged) eventName() string    { return "stateChanged" }
func (peerDiscovered) eventName() string         { return "peerDiscovered" }
func (connected) eventName() string              { return "connected" }
func (connectFailed) eventName() string          { return "connectFailed" }
func (disconnected) eventName() string           { return "disconnected" }
func (endpointsDiscovered) eventName() string    { return "endpointsDiscovered" }
func (valueRead) eventName() string              { return "valueRead" }
func (valueWritten) eventName() string           { return "valueWritten" }
func (peripheralStateChanged) eventName() string { return "stateChanged" }
func (advertisingStarted) eventName() string     { return "advertisingStarted" }
func (readRequested) eventName() string          { return "readRequested" }
func (writeRequested) eventName() string         { return "writeRequested" }
func (centralConnected) eventName() string       { return "centralConnected" }
func (centralDisconnected) eventName() string    { return "centralDisconnected" }
func (distanceUpdated) eventName() string        { return "distanceUpdated" }
func (sessionSuspended) eventName() string       { return "suspended" }
func (sessionResumed) eventName() string         { return "resumed" }
func (sessionInvalidated) eventName() string     { return "invalidated" }
