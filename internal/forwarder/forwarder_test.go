package forwarder

import "github.com/relaymesh/tproxyd/internal/action"

func actionReload(portChanged bool) action.Action {
	return action.Action{Kind: action.Reload, PortChanged: portChanged}
}
