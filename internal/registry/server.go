package registry

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

// NewHandler exposes the registry over HTTP.
func NewHandler(svc *Service) http.Handler {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Taskmesh Registry", "1.0.0"))

	registerHealth(api, svc)
	registerAgents(api, svc)
	registerAgentCapabilities(api, svc)
	registerCapabilities(api, svc)

	return router
}

type HealthInfo struct {
	Status          string `json:"status"`
	RegisteredCount int    `json:"registered_count"`
}

func registerHealth(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthInfo `json:"body"`
	}, error) {
		count, err := svc.Count(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("count agents", err)
		}
		return &struct {
			Body HealthInfo `json:"body"`
		}{Body: HealthInfo{Status: "ok", RegisteredCount: count}}, nil
	})
}

func registerAgents(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-agent",
		Method:        http.MethodPost,
		Path:          "/register",
		Summary:       "Register an agent",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body Entry `json:"body"`
	}) (*struct {
		Body Entry `json:"body"`
	}, error) {
		if input.Body.AgentID == "" {
			return nil, huma.Error400BadRequest("agent_id is required")
		}
		entry, err := svc.Register(ctx, input.Body)
		if err != nil {
			return nil, huma.Error500InternalServerError("register agent", err)
		}
		return &struct {
			Body Entry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "heartbeat",
		Method:      http.MethodPost,
		Path:        "/heartbeat",
		Summary:     "Refresh agent liveness",
	}, func(ctx context.Context, input *struct {
		Body struct {
			AgentID string `json:"agent_id"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Status string `json:"status"`
		} `json:"body"`
	}, error) {
		err := svc.Heartbeat(ctx, input.Body.AgentID)
		if errors.Is(err, ErrAgentUnknown) {
			return nil, huma.Error404NotFound("agent is not registered")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("heartbeat", err)
		}
		out := &struct {
			Body struct {
				Status string `json:"status"`
			} `json:"body"`
		}{}
		out.Body.Status = "ok"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List discoverable agents",
	}, func(ctx context.Context, input *struct {
		AgentType string `query:"type"`
		Status    string `query:"status"`
		All       bool   `query:"all"`
	}) (*struct {
		Body []Entry `json:"body"`
	}, error) {
		entries, err := svc.List(ctx, ListFilter{
			AgentType: input.AgentType,
			Status:    EntryStatus(input.Status),
			All:       input.All,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("list agents", err)
		}
		if entries == nil {
			entries = []Entry{}
		}
		return &struct {
			Body []Entry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deregister-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{agent_id}",
		Summary:     "Remove an agent",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct{}, error) {
		err := svc.Deregister(ctx, input.AgentID)
		if errors.Is(err, ErrAgentUnknown) {
			return nil, huma.Error404NotFound("agent is not registered")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("deregister agent", err)
		}
		return &struct{}{}, nil
	})
}

type capabilitiesRequest struct {
	Capabilities []Capability `json:"capabilities"`
}

func registerAgentCapabilities(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "register-capabilities",
		Method:      http.MethodPut,
		Path:        "/agents/{agent_id}/capabilities",
		Summary:     "Replace an agent's capability set",
	}, func(ctx context.Context, input *struct {
		AgentID string              `path:"agent_id"`
		Body    capabilitiesRequest `json:"body"`
	}) (*struct {
		Body struct {
			Registered int `json:"registered"`
		} `json:"body"`
	}, error) {
		count, err := svc.RegisterCapabilities(ctx, input.AgentID, input.Body.Capabilities)
		if err != nil {
			return nil, huma.Error500InternalServerError("register capabilities", err)
		}
		out := &struct {
			Body struct {
				Registered int `json:"registered"`
			} `json:"body"`
		}{}
		out.Body.Registered = count
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent-capabilities",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/capabilities",
		Summary:     "List an agent's capabilities",
	}, func(ctx context.Context, input *struct {
		AgentID string `path:"agent_id"`
	}) (*struct {
		Body []Capability `json:"body"`
	}, error) {
		caps, err := svc.Capabilities(ctx, input.AgentID)
		if err != nil {
			return nil, huma.Error500InternalServerError("get capabilities", err)
		}
		return &struct {
			Body []Capability `json:"body"`
		}{Body: caps}, nil
	})
}

type matchRequest struct {
	Query    string   `json:"query"`
	Tags     []string `json:"tags,omitempty"`
	MinScore float64  `json:"min_score,omitempty"`
}

type capabilityBody struct {
	Capability Capability `json:"capability"`
	Providers  []string   `json:"providers"`
}

func registerCapabilities(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "match-capabilities",
		Method:      http.MethodPost,
		Path:        "/capabilities/match",
		Summary:     "Rank agents against a capability query",
	}, func(ctx context.Context, input *struct {
		Body matchRequest `json:"body"`
	}) (*struct {
		Body []Candidate `json:"body"`
	}, error) {
		candidates, err := svc.Match(ctx, input.Body.Query, input.Body.Tags, input.Body.MinScore)
		if err != nil {
			return nil, huma.Error500InternalServerError("match capabilities", err)
		}
		if candidates == nil {
			candidates = []Candidate{}
		}
		return &struct {
			Body []Candidate `json:"body"`
		}{Body: candidates}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-capability",
		Method:      http.MethodGet,
		Path:        "/capabilities/{name}",
		Summary:     "Look up a capability by name",
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body capabilityBody `json:"body"`
	}, error) {
		found, providers, err := svc.Capability(ctx, input.Name)
		if errors.Is(err, ErrAgentUnknown) {
			return nil, huma.Error404NotFound("capability has no providers")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("get capability", err)
		}
		return &struct {
			Body capabilityBody `json:"body"`
		}{Body: capabilityBody{Capability: found, Providers: providers}}, nil
	})
}
