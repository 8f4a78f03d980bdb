package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/gpuenc/internal/api/models"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/nvenc"
)

func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/capabilities",
		Summary:     "Encoder Capabilities",
		Description: "Query the encoder device through the driver. The driver reference is released before responding.",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.CapabilitiesResponse, error) {
		caps := nvenc.GetCapabilities(s.registry)
		return &models.CapabilitiesResponse{
			Body: models.CapabilitiesData{
				Loader:       s.registry.Name(),
				References:   s.registry.RefCount(),
				Capabilities: caps,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-formats",
		Method:      http.MethodGet,
		Path:        "/api/formats",
		Summary:     "List Output Formats",
		Description: "Output formats an encoder can be created for, custom registrations first",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.FormatListResponse, error) {
		formats := s.options.Factory.AvailableOutputFormats()
		infos := make([]encoder.Info, 0, len(formats))
		for _, f := range formats {
			infos = append(infos, s.options.Factory.EncoderInfo(f))
		}
		return &models.FormatListResponse{
			Body: models.FormatListData{
				Formats: infos,
				Count:   len(infos),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-format",
		Method:      http.MethodGet,
		Path:        "/api/formats/{format}",
		Summary:     "Get Output Format",
		Description: "Describe one output format together with its recommended configuration",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.FormatRequest) (*models.FormatResponse, error) {
		format := encoder.OutputFormat(input.Format)
		if parsed, err := encoder.ParseOutputFormat(input.Format); err == nil {
			format = parsed
		} else if !s.options.Factory.IsOutputFormatAvailable(format) {
			return nil, huma.Error404NotFound("unknown output format " + input.Format)
		}

		return &models.FormatResponse{
			Body: models.FormatData{
				Info:        s.options.Factory.EncoderInfo(format),
				Recommended: s.options.Factory.RecommendedConfiguration(format),
			},
		}, nil
	})
}
