package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/shop-tracking/internal/authz"
	"github.com/shinyyama/shop-tracking/internal/config"
	"github.com/shinyyama/shop-tracking/internal/handler"
	appmw "github.com/shinyyama/shop-tracking/internal/middleware"
	"github.com/shinyyama/shop-tracking/internal/reqctx"
	"github.com/shinyyama/shop-tracking/internal/repository"
	"github.com/shinyyama/shop-tracking/internal/service"
	"github.com/shinyyama/shop-tracking/internal/storage"
	"golang.org/x/time/rate"
)

// Deps are the collaborators the HTTP surface is built from. Proofs may be nil.
type Deps struct {
	Config    *config.Config
	Store     repository.Store
	Gate      *authz.Gate
	Verifier  appmw.Verifier
	Proofs    storage.ProofStore
	SHA       string
	BuildTime string
}

type Server struct {
	e *echo.Echo
}

func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Validator = handler.NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, rid string) {
			c.SetRequest(c.Request().WithContext(reqctx.WithRID(c.Request().Context(), rid)))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			reqctx.Logger(c.Request().Context()).LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin(d.Config.CORSAllowedOrigins),
	}))
	if d.Config.RateLimitRPS > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/healthz" },
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(d.Config.RateLimitRPS),
				Burst:     d.Config.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}

	notificationSvc := service.NewNotificationService(d.Store.Notifications())
	trackingSvc := service.NewTrackingService(d.Store, notificationSvc)
	addressSvc := service.NewAddressService(d.Store)
	profileSvc := service.NewProfileService(d.Store, addressSvc)

	trackingHandler := handler.NewTrackingHandler(trackingSvc, d.Proofs)
	addressHandler := handler.NewAddressHandler(addressSvc)
	profileHandler := handler.NewProfileHandler(profileSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    d.SHA,
			"build_time": d.BuildTime,
		})
	})

	authMw := appmw.NewAuthMiddleware(d.Verifier)
	can := func(resource, action string) echo.MiddlewareFunc {
		return appmw.RequirePermission(d.Gate, resource, action)
	}

	api := e.Group("/api", authMw.RequireAuth)
	api.GET("/orders/:orderNumber/tracking", trackingHandler.GetForOrder, can("tracking/own", "read"))

	admin := api.Group("/admin/order-tracking")
	admin.GET("", trackingHandler.List, can("tracking/admin", "list"))
	admin.POST("/initialize", trackingHandler.Initialize, can("tracking/admin", "create"))
	admin.PUT("/steps/:id", trackingHandler.UpdateStep, can("tracking/admin", "update"))
	admin.POST("/steps/:id/proof-images", trackingHandler.UploadProof, can("tracking/admin", "upload"))
	admin.GET("/statistics", trackingHandler.Statistics, can("tracking/admin", "stats"))

	api.GET("/addresses", addressHandler.List, can("address", "read"))
	api.POST("/addresses", addressHandler.Create, can("address", "create"))
	api.GET("/addresses/:id", addressHandler.Get, can("address", "read"))
	api.PUT("/addresses/:id", addressHandler.Update, can("address", "update"))
	api.DELETE("/addresses/:id", addressHandler.Delete, can("address", "delete"))
	api.PATCH("/addresses/:id/default", addressHandler.SetDefault, can("address", "update"))

	api.GET("/me", profileHandler.Me, can("profile", "read"))
	api.GET("/me/notifications", notificationHandler.List, can("notification", "read"))
	api.POST("/me/notifications/read", notificationHandler.MarkAllRead, can("notification", "update"))

	return &Server{e: e}
}

// allowOrigin admits local development origins and the configured list.
func allowOrigin(allowed []string) func(string) (bool, error) {
	return func(origin string) (bool, error) {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true, nil
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false, nil
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false, nil
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(a), origin) {
				return true, nil
			}
		}
		return false, nil
	}
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
