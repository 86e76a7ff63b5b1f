package httpserver

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mcpay/gateway/internal/catalog"
	apierrors "github.com/mcpay/gateway/internal/errors"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/pkg/responders"
)

// registerServerRequest is the POST /admin/servers body.
type registerServerRequest struct {
	ServerID        string            `json:"serverId"`
	OriginURL       string            `json:"originUrl"`
	ReceiverAddress string            `json:"receiverAddress"`
	AuthHeaders     map[string]string `json:"authHeaders,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// registerServer handles POST /admin/servers.
func (s *Server) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed registration body")
		return
	}

	if req.ServerID == "" || strings.ContainsAny(req.ServerID, "/ ") {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "serverId must be a non-empty path segment", "serverId", req.ServerID)
		return
	}
	origin, err := url.Parse(req.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "originUrl must be an absolute URL", "originUrl", req.OriginURL)
		return
	}

	server := catalog.RegisteredServer{
		ServerID:        req.ServerID,
		OriginURL:       req.OriginURL,
		ReceiverAddress: req.ReceiverAddress,
		AuthHeaders:     req.AuthHeaders,
		Metadata:        req.Metadata,
		Status:          "active",
	}
	if err := s.repo.CreateServer(r.Context(), server); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("server_id", req.ServerID).
			Msg("server registration failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "registration failed")
		return
	}

	s.observeAdmin(r, http.StatusCreated)
	responders.JSON(w, http.StatusCreated, map[string]string{
		"serverId": req.ServerID,
		"endpoint": "/mcp/" + req.ServerID,
	})
}

// listServers handles GET /admin/servers.
func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.repo.ListServers(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "catalog unavailable")
		return
	}
	s.observeAdmin(r, http.StatusOK)
	responders.JSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// listServerTools handles GET /admin/servers/{serverID}/tools.
func (s *Server) listServerTools(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")

	if _, err := s.repo.GetServerByServerID(r.Context(), serverID); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, "server not found", "serverId", serverID)
		return
	}

	tools, err := s.repo.ListToolsByServer(r.Context(), serverID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "catalog unavailable")
		return
	}

	type toolEntry struct {
		ToolID  string                 `json:"toolId"`
		Name    string                 `json:"name"`
		Pricing []catalog.PricingEntry `json:"pricing,omitempty"`
	}
	entries := make([]toolEntry, 0, len(tools))
	for _, tool := range tools {
		_, pricing, err := s.repo.GetToolPricing(r.Context(), serverID, tool.Name)
		if err != nil {
			pricing = nil
		}
		entries = append(entries, toolEntry{ToolID: tool.ToolID, Name: tool.Name, Pricing: pricing})
	}

	s.observeAdmin(r, http.StatusOK)
	responders.JSON(w, http.StatusOK, map[string]any{"serverId": serverID, "tools": entries})
}

// upsertToolRequest is the PUT /admin/servers/{serverID}/tools/{toolName} body.
type upsertToolRequest struct {
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Pricing     []struct {
		AssetAddress         string `json:"assetAddress"`
		Network              string `json:"network"`
		MaxAmountRequiredRaw string `json:"maxAmountRequiredRaw"`
		TokenDecimals        uint8  `json:"tokenDecimals"`
		Active               bool   `json:"active"`
	} `json:"pricing,omitempty"`
}

// upsertServerTool registers or replaces a tool and its pricing rows.
func (s *Server) upsertServerTool(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	toolName := chi.URLParam(r, "toolName")

	var req upsertToolRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed tool body")
		return
	}

	pricing := make([]catalog.PricingEntry, 0, len(req.Pricing))
	for _, row := range req.Pricing {
		if _, ok := new(big.Int).SetString(row.MaxAmountRequiredRaw, 10); !ok {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidAmount, "maxAmountRequiredRaw must be a base-unit integer", "maxAmountRequiredRaw", row.MaxAmountRequiredRaw)
			return
		}
		pricing = append(pricing, catalog.PricingEntry{
			AssetAddress:         row.AssetAddress,
			Network:              row.Network,
			MaxAmountRequiredRaw: row.MaxAmountRequiredRaw,
			TokenDecimals:        row.TokenDecimals,
			Active:               row.Active,
		})
	}

	err := s.repo.UpsertTool(r.Context(), catalog.Tool{
		ServerID:    serverID,
		Name:        toolName,
		InputSchema: req.InputSchema,
	}, pricing)
	if errors.Is(err, catalog.ErrNotFound) {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeResourceNotFound, "server not found", "serverId", serverID)
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("server_id", serverID).
			Str("tool", toolName).
			Msg("tool upsert failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tool upsert failed")
		return
	}

	s.observeAdmin(r, http.StatusOK)
	responders.JSON(w, http.StatusOK, map[string]string{"serverId": serverID, "tool": toolName})
}

func (s *Server) observeAdmin(r *http.Request, status int) {
	if s.metrics != nil {
		s.metrics.ObserveAdminRequest(r.URL.Path, http.StatusText(status))
	}
}
