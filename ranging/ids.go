package ranging

import "github.com/google/uuid"

// Well-known identifiers shared by both roles. They must stay byte-identical
// across Initiator and Responder builds.
var (
	// ServiceUUID is the advertised service the Initiator scans for
	ServiceUUID = uuid.MustParse("af89f37e-5f29-4410-bdbc-96da2006dd91")

	// InitiatorTokenUUID is written by the Initiator with its archived token
	InitiatorTokenUUID = uuid.MustParse("af89f37e-5f29-4410-bdbc-96da2006dd92")

	// ResponderTokenUUID is read by the Initiator to fetch the Responder's token
	ResponderTokenUUID = uuid.MustParse("af89f37e-5f29-4410-bdbc-96da2006dd93")
)

// DefaultAdvertisedName is the local name the Responder advertises when none is configured
const DefaultAdvertisedName = "MyPeripheral"

// IsTokenEndpoint reports whether id is one of the two token characteristics
func IsTokenEndpoint(id uuid.UUID) bool {
	return id == InitiatorTokenUUID || id == ResponderTokenUUID
}
