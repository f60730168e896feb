package core

// PayloadKind discriminates the tagged union carried over the dataflow bus
// and the IPC transport bridge.
type PayloadKind int

const (
	PayloadImage PayloadKind = iota
	PayloadVector
)

// Payload is every inter-node message: either an image frame or a named
// numeric vector. No deeper type hierarchy is needed.
type Payload struct {
	Kind   PayloadKind
	Image  Image
	Vector JointVector
}

// NewImagePayload wraps an Image as a bus Payload.
func NewImagePayload(img Image) Payload {
	return Payload{Kind: PayloadImage, Image: img}
}

// NewVectorPayload wraps a named numeric vector as a bus Payload.
func NewVectorPayload(v JointVector) Payload {
	return Payload{Kind: PayloadVector, Vector: v}
}
