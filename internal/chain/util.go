package chain

import "strings"

func DefaultWSEndpoint(rpc string) string {
	if strings.HasPrefix(rpc, "ws://") || strings.HasPrefix(rpc, "wss://") {
		if strings.HasSuffix(rpc, "/websocket") {
			return rpc
		}
		return strings.TrimRight(rpc, "/") + "/websocket"
	}
	if strings.HasPrefix(rpc, "https://") {
		return "wss://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "https://") + "/websocket"
	}
	if strings.HasPrefix(rpc, "http://") {
		return "ws://" + strings.TrimPrefix(strings.TrimRight(rpc, "/"), "http://") + "/websocket"
	}
	return ""
}

// WSEndpoints returns the configured websocket endpoints, or ones derived
// from the RPC endpoints when none are configured.
func WSEndpoints(ws, rpc []string) []string {
	if list := sanitizeEndpoints(ws); len(list) > 0 {
		return list
	}
	var out []string
	for _, ep := range sanitizeEndpoints(rpc) {
		if derived := DefaultWSEndpoint(ep); derived != "" {
			out = append(out, derived)
		}
	}
	return out
}
