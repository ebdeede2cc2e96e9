package handlers

import (
	"net/http"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/realtime"
	"github.com/camden-git/albumconverter/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// RouterDeps are the services the HTTP surface is built on.
type RouterDeps struct {
	Cfg           config.Config
	Albums        *services.AlbumService
	Conversion    *services.ConversionService
	Auth          *services.AuthService
	Hub           *realtime.Hub
	SecureCookies bool
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   d.Cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.Cfg.RequestTimeout))
	r.Use(corsHandler.Handler)

	albumHandler := &AlbumHandler{Albums: d.Albums, Conversion: d.Conversion, Cfg: d.Cfg}
	authHandler := &AuthHandler{Auth: d.Auth, SecureCookies: d.SecureCookies}
	debugHandler := &DebugHandler{Cfg: d.Cfg}
	limiter := NewRateLimiter(d.Cfg.AuthRateLimitPerMinute)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Get("/register/", authHandler.RegisterForm)
		r.Post("/register/", authHandler.Register)
		r.Get("/login/", authHandler.LoginForm)
		r.Post("/login/", authHandler.Login)
	})
	r.Post("/logout/", authHandler.Logout)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return AuthMiddleware(d.Auth, next) })

		r.Get("/", albumHandler.Index)
		r.Get("/upload/", albumHandler.UploadForm)
		r.Post("/upload/", albumHandler.Upload)
		r.Post("/convert/", albumHandler.Convert)
		r.Get("/progress/{album_id}/", albumHandler.Progress)
		r.Post("/delete/", albumHandler.Delete)
		r.Get("/download/{album_id}/", albumHandler.Download)
		r.Get("/albums/{album_id}/files/", albumHandler.ListFiles)
		r.Get("/albums/{album_id}/files/*", albumHandler.ServeFile)
		r.Get("/debug/", debugHandler.UploadLimits)
		if d.Hub != nil {
			r.Get("/ws/", d.Hub.ServeWS)
		}
	})

	return r
}
