package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/identity"
	"github.com/ashureev/tripsitter/internal/ratelimit"
)

const (
	maxAgentNameLength        = 64
	maxAgentDescriptionLength = 500
)

type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type registerResponse struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
	Name   string `json:"name"`
}

// RegisterAgent handles POST /api/agents/register. Names are not unique;
// every call creates a new agent and credential.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if utf8.RuneCountInString(name) > maxAgentNameLength {
		Error(w, http.StatusBadRequest, "name is too long")
		return
	}
	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > maxAgentDescriptionLength {
		Error(w, http.StatusBadRequest, "description is too long")
		return
	}

	agent, err := NewAgent(r.Context(), h.repo, name, description)
	if err != nil {
		slog.Error("Failed to register agent", "error", err)
		Error(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	slog.Info("Agent registered", "agent_id", agent.ID, "name", agent.Name)
	JSON(w, http.StatusCreated, registerResponse{ID: agent.ID, APIKey: agent.Key, Name: agent.Name})
}

// AgentCreator stores new agents.
type AgentCreator interface {
	CreateAgent(ctx context.Context, agent *domain.Agent) error
}

// NewAgent generates a credential and stores a new agent.
func NewAgent(ctx context.Context, repo AgentCreator, name, description string) (*domain.Agent, error) {
	key, err := identity.GenerateKey()
	if err != nil {
		return nil, err
	}
	agent := &domain.Agent{Key: key, Name: name, Description: description}
	if err := repo.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

// GetMe handles GET /api/agents/me: the calling agent and today's quota.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller := identity.CallerFromContext(r.Context())

	agent, err := h.repo.GetAgent(r.Context(), caller.AgentID)
	if err != nil || agent == nil {
		slog.Error("Failed to load agent", "agent_id", caller.AgentID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load agent")
		return
	}

	used, remaining, err := h.limiter.Status(r.Context(), ratelimit.ClassAgent, agent.ID)
	if err != nil {
		slog.Error("Failed to read quota", "agent_id", agent.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read quota")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"id":                    agent.ID,
		"name":                  agent.Name,
		"description":           agent.Description,
		"created_at":            agent.CreatedAt,
		"trips_today":           used,
		"trips_remaining_today": remaining,
		"daily_quota":           h.limiter.Quotas().AgentDaily,
	})
}
