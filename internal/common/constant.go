package common

// AuthorizationHeaderName is the gRPC metadata key carrying the peer token
// on every layer delivery.
const AuthorizationHeaderName = "authorization"

// ProtocolVersion is written into every serialized envelope.
const ProtocolVersion uint8 = 1
