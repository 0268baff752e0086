package orchestrator

import (
	"fmt"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

// routeContextKinds is the only admissible route-to-context pairing. Both
// video routes share the video context kind.
var routeContextKinds = map[types.MediaRoute]types.ContextKind{
	types.RouteText:       types.ContextText,
	types.RouteTextImage:  types.ContextTextImage,
	types.RouteShortVideo: types.ContextVideo,
	types.RouteLongVideo:  types.ContextVideo,
}

// ValidateRouting is the single chokepoint enforcing the route/context
// contract. A mismatch is a contract violation on the manager's side and
// fails the frame; it is never silently coerced.
func ValidateRouting(reply *types.ManagerReply) error {
	if reply.Route == types.RouteNone {
		if reply.AgentContext != nil {
			return routingErr("route none must not carry an agent context")
		}
		return nil
	}

	wantKind, ok := routeContextKinds[reply.Route]
	if !ok {
		return routingErr(fmt.Sprintf("unknown route %q", reply.Route))
	}
	if reply.AgentContext == nil {
		return routingErr(fmt.Sprintf("route %q requires an agent context", reply.Route))
	}
	if reply.AgentContext.Kind != wantKind {
		return routingErr(fmt.Sprintf("route %q requires context %q, got %q",
			reply.Route, wantKind, reply.AgentContext.Kind))
	}
	if err := reply.AgentContext.CheckShape(); err != nil {
		return routingErr(err.Error())
	}
	return nil
}

func routingErr(msg string) error {
	return resilience.NewError(resilience.KindValidation, "orchestrator:routing", msg, nil)
}
