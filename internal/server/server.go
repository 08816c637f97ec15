// Package server implements the thin HTTP adapter over the facade: CRUD for
// namespaces and entities, and a dashboard summary. Grounded on
// at/internal/server/server.go's ada wiring and route-group shape.
package server

import (
	"context"
	"net"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/kaizen/internal/config"
	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/pkg/mcp"
)

// Server is the composition root for kaizen's HTTP surface: namespace/entity
// CRUD, a dashboard summary, and the tool-protocol transport mounted as a
// sub-route.
type Server struct {
	config config.Server

	server *ada.Server

	facade *facade.Facade
	mcp    *mcp.MCP
}

// New wires the ada router with middleware matching the teacher's stack
// (recover, server identity, CORS, request id, logging, telemetry) plus
// kaizen's CRUD and tool-protocol routes.
func New(cfg config.Server, service string, f *facade.Facade, m *mcp.MCP) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config: cfg,
		server: mux,
		facade: f,
		mcp:    m,
	}

	baseGroup := mux.Group(cfg.BasePath)

	baseGroup.GET("/healthz", s.Healthz)

	apiGroup := baseGroup.Group("/api/v1")
	apiGroup.GET("/namespaces", s.ListNamespacesAPI)
	apiGroup.POST("/namespaces", s.CreateNamespaceAPI)
	apiGroup.GET("/namespaces/{id}", s.GetNamespaceAPI)
	apiGroup.DELETE("/namespaces/{id}", s.DeleteNamespaceAPI)

	apiGroup.GET("/namespaces/{id}/entities", s.SearchEntitiesAPI)
	apiGroup.POST("/namespaces/{id}/entities", s.CreateEntitiesAPI)
	// Entity id travels in the request body rather than a second path
	// wildcard, to keep routes to a single wildcard segment each.
	apiGroup.POST("/namespaces/{id}/entities/delete", s.DeleteEntityAPI)

	apiGroup.POST("/namespaces/{id}/consolidate", s.ConsolidateTipsAPI)

	apiGroup.GET("/dashboard", s.DashboardAPI)

	if m != nil {
		baseGroup.Handle("/mcp", m)
	}

	return s
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}
