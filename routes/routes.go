package routes

import (
	"github.com/patry77/techniki-czatt/realtime"
	"github.com/patry77/techniki-czatt/services"
)

// Shared handler dependencies, assigned once at startup before the router
// begins serving.
var (
	Pipeline  *services.MessagePipeline
	Reactions *services.ReactionService
	Emitter   realtime.Emitter
)

func Initialize(pipeline *services.MessagePipeline, reactions *services.ReactionService, emitter realtime.Emitter) {
	Pipeline = pipeline
	Reactions = reactions
	Emitter = emitter
}
