package session

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps human-readable resource class names to Rod protocol
// resource types. Document, Script, XHR and Fetch are never blockable: the
// target pages need them to render.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Other":      proto.NetworkResourceTypeOther,
	"Manifest":   proto.NetworkResourceTypeManifest,
	"TextTrack":  proto.NetworkResourceTypeTextTrack,
}

// blockedSet builds the O(1) lookup set for the configured class names.
// Unknown names are logged and ignored.
func blockedSet(names []string) map[proto.NetworkResourceType]struct{} {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		rt, ok := configToProto[name]
		if !ok {
			slog.Warn("session: ignoring unknown blocked resource class", "class", name)
			continue
		}
		blocked[rt] = struct{}{}
	}
	return blocked
}

// shouldBlock decides one intercepted request.
func shouldBlock(blocked map[proto.NetworkResourceType]struct{}, rt proto.NetworkResourceType) bool {
	_, ok := blocked[rt]
	return ok
}

// setupHijack installs a request interceptor on the page that aborts the
// blocked resource classes and lets everything else through.
//
// Returns the running HijackRouter so Close can stop it.
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := blockedSet(blockedTypes)
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if shouldBlock(blocked, ctx.Request.Type()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
