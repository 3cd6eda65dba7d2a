package adapter

// action is what an armed continuation slot does when it fires.
type action int

const (
	actionNone action = iota
	actionOpenThenPowerOn
	actionCloseAfterOpen
	actionCloseThenPowerOff
	actionReopenAfterClose
)

func (a action) String() string {
	switch a {
	case actionNone:
		return "none"
	case actionOpenThenPowerOn:
		return "openThenPowerOn"
	case actionCloseAfterOpen:
		return "closeAfterOpen"
	case actionCloseThenPowerOff:
		return "closeThenPowerOff"
	case actionReopenAfterClose:
		return "reopenAfterClose"
	default:
		return "unknown"
	}
}

// fire runs a consumed slot action.
func (a *Adapter) fire(act action) {
	if act == actionNone {
		return
	}
	a.log.Debug().Stringer("action", act).Msg("Continuation")

	switch act {
	case actionOpenThenPowerOn:
		if a.pendingTx == 0 {
			// open call already completed
			a.openDone()
		} else {
			a.log.Debug().Msg("Waiting for open to complete")
		}
	case actionCloseAfterOpen:
		a.close()
	case actionCloseThenPowerOff:
		if a.pendingTx == 0 {
			// close call already completed
			a.closeDone()
		} else {
			a.log.Debug().Msg("Waiting for close to complete")
		}
	case actionReopenAfterClose:
		if a.pendingTx == 0 {
			a.open()
		} else {
			// reopened by the close completion
			a.log.Debug().Msg("Waiting for close to complete")
		}
	}
}
