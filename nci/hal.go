package nci

// HalIO is the byte pipe between an NCI engine and the NFC controller.
type HalIO interface {
	// Start attaches client, which receives every inbound NCI packet
	Start(client HalClient) bool

	// Stop detaches the client and cancels any outstanding write
	Stop()

	// Write sends the concatenation of chunks as one packet. done is called
	// with the outcome unless the write is cancelled. Only one write may be
	// outstanding at a time. Returns false if nothing was sent.
	Write(chunks [][]byte, done func(ok bool)) bool

	// CancelWrite drops the outstanding write
	CancelWrite()
}

// HalClient receives data from a HalIO.
type HalClient interface {
	Read(data []byte)
}

// StateListener is notified when the engine's states change.
type StateListener interface {
	CurrentStateChanged()
	NextStateChanged()
}
