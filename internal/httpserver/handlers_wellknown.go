package httpserver

import (
	"net/http"

	apierrors "github.com/mcpay/gateway/internal/errors"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/money"
	"github.com/mcpay/gateway/pkg/responders"
	"github.com/mcpay/gateway/pkg/x402"
)

// discoveryDocument is the /.well-known/mcpay.json payload: the registered
// servers, their priced tools, and how to pay. Follows the RFC 8615
// well-known URI convention so agents can discover paid MCP servers without
// prior knowledge of this deployment.
type discoveryDocument struct {
	X402Version int               `json:"x402Version"`
	Scheme      string            `json:"scheme"`
	Servers     []discoveryServer `json:"servers"`
}

type discoveryServer struct {
	ServerID string          `json:"serverId"`
	Endpoint string          `json:"endpoint"` // public proxy path
	Status   string          `json:"status"`
	Tools    []discoveryTool `json:"tools,omitempty"`
}

type discoveryTool struct {
	Name    string           `json:"name"`
	Pricing []discoveryPrice `json:"pricing,omitempty"`
}

type discoveryPrice struct {
	Network string `json:"network"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"` // human-readable decimal
}

// discoveryDocument handles GET /.well-known/mcpay.json.
func (s *Server) discoveryDocument(w http.ResponseWriter, r *http.Request) {
	servers, err := s.repo.ListServers(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("discovery listing failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "catalog unavailable")
		return
	}

	doc := discoveryDocument{
		X402Version: x402.SupportedVersion,
		Scheme:      x402.SchemeExact,
		Servers:     make([]discoveryServer, 0, len(servers)),
	}

	for _, server := range servers {
		if server.Status == "disabled" {
			continue
		}
		entry := discoveryServer{
			ServerID: server.ServerID,
			Endpoint: "/mcp/" + server.ServerID,
			Status:   server.Status,
		}

		tools, err := s.repo.ListToolsByServer(r.Context(), server.ServerID)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Debug().Err(err).
				Str("server_id", server.ServerID).
				Msg("tool listing failed during discovery")
		}
		for _, tool := range tools {
			entry.Tools = append(entry.Tools, discoveryTool{
				Name:    tool.Name,
				Pricing: s.toolPricing(r, server.ServerID, tool.Name),
			})
		}

		doc.Servers = append(doc.Servers, entry)
	}

	responders.JSON(w, http.StatusOK, doc)
}

func (s *Server) toolPricing(r *http.Request, serverID, toolName string) []discoveryPrice {
	_, rows, err := s.repo.GetToolPricing(r.Context(), serverID, toolName)
	if err != nil {
		return nil
	}

	var prices []discoveryPrice
	for _, row := range rows {
		if !row.Active {
			continue
		}
		amount, err := money.RawToHuman(row.MaxAmountRequiredRaw, row.TokenDecimals)
		if err != nil {
			continue
		}
		prices = append(prices, discoveryPrice{
			Network: row.Network,
			Asset:   row.AssetAddress,
			Amount:  amount,
		})
	}
	return prices
}
