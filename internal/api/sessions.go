package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/gpuenc/internal/api/models"
	"github.com/smazurov/gpuenc/internal/metrics"
	"github.com/smazurov/gpuenc/internal/nats"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "Latest statistics of every encoder session reported to this process",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		all := metrics.GetAllEncoderMetrics()
		sessions := make([]models.SessionData, 0, len(all))
		for id, m := range all {
			sessions = append(sessions, models.NewSessionData(id, m))
		}
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })

		return &models.SessionListResponse{
			Body: models.SessionListData{
				Sessions: sessions,
				Count:    len(sessions),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get Session",
		Description: "Latest statistics of one encoder session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.SessionRequest) (*models.SessionResponse, error) {
		m := metrics.GetEncoderMetrics(input.ID)
		if m == nil {
			return nil, huma.Error404NotFound("session " + input.ID + " not found")
		}
		return &models.SessionResponse{Body: models.NewSessionData(input.ID, m)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "control-session",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/{action}",
		Summary:     "Control Session",
		Description: "Pause, resume or stop the capture that owns a session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 500, 503},
	}, func(_ context.Context, input *models.ControlRequest) (*models.ControlResponse, error) {
		ctrl := s.options.Controller
		if ctrl == nil {
			return nil, huma.Error503ServiceUnavailable("session control requires a NATS connection")
		}

		var send func(string, string) error
		switch input.Action {
		case nats.ActionPause:
			send = ctrl.Pause
		case nats.ActionResume:
			send = ctrl.Resume
		case nats.ActionStop:
			send = ctrl.Stop
		default:
			return nil, huma.Error400BadRequest("unknown action " + input.Action)
		}

		if err := send(input.ID, input.Body.Reason); err != nil {
			s.logger.Error("Failed to send session command", "session_id", input.ID, "action", input.Action, "error", err)
			return nil, huma.Error500InternalServerError("failed to send command", err)
		}

		s.logger.Info("Session command sent", "session_id", input.ID, "action", input.Action)
		return &models.ControlResponse{
			Body: models.ControlData{
				SessionID: input.ID,
				Action:    input.Action,
				Message:   "Command sent",
			},
		}, nil
	})
}
