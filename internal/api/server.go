package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/controller"
	"github.com/dgnsrekt/sportscaster/internal/delayloader"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
	"github.com/dgnsrekt/sportscaster/internal/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type Service interface {
	StartCapture(ctx context.Context) (relay.Session, error)
	StopCapture(ctx context.Context) messages.State
	State(ctx context.Context) controller.StateView
	Commentary(ctx context.Context) []display.Item
	Frame(ctx context.Context) (messages.Frame, error)
	SetDelay(ctx context.Context, delayMS int) (delayloader.Snapshot, error)
	VideoCommand(ctx context.Context, command string) (cdpcontrol.VideoStatus, error)
	TakeSnapshot(ctx context.Context, source, notes string) (snapshot.SnapshotMeta, error)
	ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Options tunes the HTTP surface.
type Options struct {
	// Bus enables GET /api/v1/events when set.
	Bus *relay.Bus
	// CORSOrigins defaults to "*".
	CORSOrigins []string
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Sportscaster Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if opts.Bus != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Bus))
	}

	registerHealthHandlers(api)
	registerCaptureHandlers(api, svc)
	registerVideoHandlers(api, svc)
	registerSnapshotHandlers(api, svc)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/health", Summary: "Liveness probe", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound, cdpcontrol.CodeNoVideo, cdpcontrol.CodeNoFrame, cdpcontrol.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeCaptureBusy:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
