package radio

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("peripheral not connected")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrPoweredOff         = errors.New("radio powered off")
	ErrUnknownDevice      = errors.New("unknown device")
	ErrAlreadyAdvertising = errors.New("already advertising")
)

// ATTError is an ATT protocol result code (Bluetooth Core, Vol 3, Part F, 3.4.1.1)
type ATTError uint8

const (
	ATTSuccess                     ATTError = 0x00
	ATTInvalidHandle               ATTError = 0x01
	ATTReadNotPermitted            ATTError = 0x02
	ATTWriteNotPermitted           ATTError = 0x03
	ATTInvalidPDU                  ATTError = 0x04
	ATTInsufficientAuthentication  ATTError = 0x05
	ATTRequestNotSupported         ATTError = 0x06
	ATTInvalidOffset               ATTError = 0x07
	ATTInsufficientAuthorization   ATTError = 0x08
	ATTPrepareQueueFull            ATTError = 0x09
	ATTAttributeNotFound           ATTError = 0x0A
	ATTAttributeNotLong            ATTError = 0x0B
	ATTInvalidAttributeValueLength ATTError = 0x0D
	ATTUnlikelyError               ATTError = 0x0E
	ATTInsufficientResources       ATTError = 0x11
)

var attErrorNames = map[ATTError]string{
	ATTSuccess:                     "Success",
	ATTInvalidHandle:               "Invalid Handle",
	ATTReadNotPermitted:            "Read Not Permitted",
	ATTWriteNotPermitted:           "Write Not Permitted",
	ATTInvalidPDU:                  "Invalid PDU",
	ATTInsufficientAuthentication:  "Insufficient Authentication",
	ATTRequestNotSupported:         "Request Not Supported",
	ATTInvalidOffset:               "Invalid Offset",
	ATTInsufficientAuthorization:   "Insufficient Authorization",
	ATTPrepareQueueFull:            "Prepare Queue Full",
	ATTAttributeNotFound:           "Attribute Not Found",
	ATTAttributeNotLong:            "Attribute Not Long",
	ATTInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ATTUnlikelyError:               "Unlikely Error",
	ATTInsufficientResources:       "Insufficient Resources",
}

func (e ATTError) Error() string {
	if name, ok := attErrorNames[e]; ok {
		return fmt.Sprintf("ATT error: %s (0x%02X)", name, uint8(e))
	}
	return fmt.Sprintf("ATT error: 0x%02X", uint8(e))
}
