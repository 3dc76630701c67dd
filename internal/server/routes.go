package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Task routes
	r.Route("/task", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)

		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTask)
			r.Delete("/", s.deleteTask)

			// Session operations
			r.Post("/start", s.startTask)
			r.Post("/stop", s.stopTask)
			r.Post("/message", s.sendMessage)
			r.Post("/respond", s.respondRequest)
			r.Put("/mode", s.setMode)

			// History
			r.Get("/messages", s.getMessages)
			r.Get("/messages/count", s.getMessageCount)

			// Pause points
			r.Get("/pending", s.getPending)

			// Prompt queue
			r.Get("/queue", s.getQueue)
			r.Post("/queue", s.queuePrompt)
			r.Delete("/queue/{promptID}", s.cancelQueuedPrompt)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)
}
