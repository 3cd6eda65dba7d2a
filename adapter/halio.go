package adapter

import (
	"github.com/rs/zerolog"

	"github.com/librescoot/nfc-binder/nci"
)

const (
	dirIn  = '>'
	dirOut = '<'

	hexdumpWidth = 16
)

// Start implements nci.HalIO.
func (a *Adapter) Start(client nci.HalClient) bool {
	a.client = client
	return true
}

// Stop implements nci.HalIO.
func (a *Adapter) Stop() {
	if a.writeID != 0 {
		a.t.Cancel(a.writeID)
		a.writeID = 0
	}
	a.client = nil
}

// Write implements nci.HalIO. A single chunk is sent as is, several are
// concatenated in order.
func (a *Adapter) Write(chunks [][]byte, done func(ok bool)) bool {
	if a.writeID != 0 {
		panic("adapter: write already in progress")
	}

	var data []byte
	if len(chunks) == 1 {
		data = chunks[0]
	} else {
		size := 0
		for _, chunk := range chunks {
			size += len(chunk)
		}
		if size > 0 {
			data = make([]byte, 0, size)
			for _, chunk := range chunks {
				data = append(data, chunk...)
			}
		}
	}
	if data == nil {
		return false
	}

	a.dump(dirOut, data)
	var id uint64
	id = a.t.Write(data, func(ok bool) {
		// cleared first, done may start the next write
		a.writeID = 0
		if fn := done; fn != nil {
			done = nil
			fn(ok)
		}
	}, func() {
		if id != 0 && a.writeID == id {
			a.writeID = 0
		}
		done = nil
	})
	a.writeID = id
	return id != 0
}

// CancelWrite implements nci.HalIO.
func (a *Adapter) CancelWrite() {
	if a.writeID != 0 {
		a.t.Cancel(a.writeID)
		a.writeID = 0
	}
}

func (a *Adapter) handleData(data []byte) {
	a.dump(dirIn, data)
	if a.client != nil {
		a.client.Read(data)
	}
}

func (a *Adapter) dump(dir byte, data []byte) {
	if !a.hexdump || a.log.GetLevel() > zerolog.TraceLevel || zerolog.GlobalLevel() > zerolog.TraceLevel {
		return
	}
	a.log.Trace().Msgf("%c data, %d byte(s)", dir, len(data))
	for off := 0; off < len(data); off += hexdumpWidth {
		end := min(off+hexdumpWidth, len(data))
		a.log.Trace().Msgf("%c %04x: % x", dir, off, data[off:end])
		dir = ' '
	}
}
