package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is listed in types.
// Images are never blocked: gem avatars must load for the overlay to find
// them. The returned router must be stopped when the tab closes.
func blockResources(p *rod.Page, types []string) (*rod.HijackRouter, error) {
	blocked := make(map[proto.NetworkResourceType]bool, len(types))
	for _, t := range types {
		if rt, ok := resourceType(t); ok {
			blocked[rt] = true
		}
	}
	if len(blocked) == 0 {
		return nil, nil
	}

	router := p.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

// resourceType maps config names (plural or CDP spelling) to CDP types.
func resourceType(name string) (proto.NetworkResourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "font", "fonts":
		return proto.NetworkResourceTypeFont, true
	case "media":
		return proto.NetworkResourceTypeMedia, true
	case "stylesheet", "stylesheets":
		return proto.NetworkResourceTypeStylesheet, true
	case "websocket", "websockets":
		return proto.NetworkResourceTypeWebSocket, true
	}
	return "", false
}
