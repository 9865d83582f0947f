package router

import (
	"net/http"

	"dutlab/backend/app/controllers"
	"dutlab/backend/app/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Controllers struct {
	HTTP    *controllers.HTTPController
	Auth    *controllers.AuthController
	Admin   *controllers.AdminController
	Jobs    *controllers.JobController
	Devices *controllers.DeviceController
}

func NewRouter(c Controllers, mw *middleware.Auth) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, middleware.WithRoute(pattern, h))
	}

	// public
	handle("GET /ping", http.HandlerFunc(c.HTTP.Ping))
	handle("POST /login", http.HandlerFunc(c.Auth.Login))
	handle("GET /jobs", http.HandlerFunc(c.Jobs.Get))
	handle("GET /logs", http.HandlerFunc(c.Jobs.List))
	handle("GET /artifacts", http.HandlerFunc(c.Jobs.Artifact))
	handle("GET /devices", http.HandlerFunc(c.Devices.List))
	handle("GET /plugins", http.HandlerFunc(c.Jobs.Plugins))
	handle("GET /metrics", promhttp.Handler())

	// operators
	handle("POST /jobs", mw.RequireAuth(http.HandlerFunc(c.Jobs.Submit)))
	handle("POST /devices/drain", mw.RequireAuth(http.HandlerFunc(c.Devices.Drain)))

	// admin-only endpoints
	handle("POST /devices/reset", mw.RequireAdmin(http.HandlerFunc(c.Devices.Reset)))
	handle("POST /admin/operators", mw.RequireAdmin(http.HandlerFunc(c.Admin.CreateOperator)))

	return mux
}
