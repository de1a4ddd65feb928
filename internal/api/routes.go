package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes mounts the /api route tree. Mutating routes sit behind
// the auth middleware; read routes are always open.
func (s *Server) setupAPIRoutes(r chi.Router) {
	r.Post("/auth/login", s.HandleLogin)

	r.Route("/gateways", func(r chi.Router) {
		r.Get("/", s.HandleListGateways)
		r.Get("/tree", s.HandleGatewayTree)
		r.Get("/{gatewayID}", s.HandleGetGateway)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Put("/{gatewayID}", s.HandleUpdateGateway)
		})
	})

	r.Route("/devices/{devAddr}", func(r chi.Router) {
		r.Get("/", s.HandleDeviceProfile)
		r.Get("/timeline", s.HandleDeviceTimeline)
		r.Get("/loss", s.HandleDeviceLoss)
		r.Get("/intervals", s.HandleDeviceIntervals)
	})

	r.Route("/stats", func(r chi.Router) {
		r.Get("/timeseries", s.HandleTimeSeries)
		r.Get("/channels", s.HandleChannelStats)
		r.Get("/sf", s.HandleSFStats)
		r.Get("/dutycycle", s.HandleDutyCycle)
	})

	r.Get("/packets/recent", s.HandleRecentPackets)
	r.Get("/joins", s.HandleRecentJoins)

	r.Route("/cs", func(r chi.Router) {
		r.Get("/devices", s.HandleListCsDevices)
		r.Get("/devices/{devEUI}/packets", s.HandleCsDevicePackets)
	})

	r.Route("/operators", func(r chi.Router) {
		r.Get("/", s.HandleListOperators)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.HandleCreateOperator)
			r.Delete("/{id}", s.HandleDeleteOperator)
		})
	})

	r.Route("/hiderules", func(r chi.Router) {
		r.Get("/", s.HandleListHideRules)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.HandleCreateHideRule)
			r.Delete("/{id}", s.HandleDeleteHideRule)
		})
	})
}
