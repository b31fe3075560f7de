package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/sportscaster/internal/cdpcontrol"
	"github.com/dgnsrekt/sportscaster/internal/controller"
	"github.com/dgnsrekt/sportscaster/internal/delayloader"
	"github.com/dgnsrekt/sportscaster/internal/display"
	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

func registerCaptureHandlers(api huma.API, svc Service) {
	type startOutput struct {
		Body struct {
			Status  string        `json:"status"`
			Session relay.Session `json:"session"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "start-capture", Method: http.MethodPost, Path: "/api/v1/capture/start", Summary: "Start commentary on the active tab", Description: "Captures the active tab's video, opens a live backend session and mutes the page. Fails with 409 while a capture is running.", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*startOutput, error) {
			sess, err := svc.StartCapture(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &startOutput{}
			out.Body.Status = "started"
			out.Body.Session = sess
			return out, nil
		})

	type stopOutput struct {
		Body messages.State
	}
	huma.Register(api, huma.Operation{OperationID: "stop-capture", Method: http.MethodPost, Path: "/api/v1/capture/stop", Summary: "Stop commentary", Description: "Idempotent. Returns the resulting state.", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*stopOutput, error) {
			out := &stopOutput{}
			out.Body = svc.StopCapture(ctx)
			return out, nil
		})

	type stateOutput struct {
		Body controller.StateView
	}
	huma.Register(api, huma.Operation{OperationID: "get-state", Method: http.MethodGet, Path: "/api/v1/state", Summary: "Get commentator state", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			out := &stateOutput{}
			out.Body = svc.State(ctx)
			return out, nil
		})

	type commentaryOutput struct {
		Body struct {
			Items []display.Item `json:"items"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-commentary", Method: http.MethodGet, Path: "/api/v1/commentary", Summary: "List recent commentary, oldest first", Tags: []string{"Commentary"}},
		func(ctx context.Context, input *struct{}) (*commentaryOutput, error) {
			out := &commentaryOutput{}
			out.Body.Items = svc.Commentary(ctx)
			if out.Body.Items == nil {
				out.Body.Items = []display.Item{}
			}
			return out, nil
		})

	type frameOutput struct {
		Body messages.Frame
	}
	huma.Register(api, huma.Operation{OperationID: "get-frame", Method: http.MethodGet, Path: "/api/v1/frame", Summary: "Get the latest preview frame", Description: "Base64 JPEG of the captured tab, refreshed about once a second while the page video is muted.", Tags: []string{"Commentary"}},
		func(ctx context.Context, input *struct{}) (*frameOutput, error) {
			f, err := svc.Frame(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &frameOutput{}
			out.Body = f
			return out, nil
		})

	type delayOutput struct {
		Body delayloader.Snapshot
	}
	huma.Register(api, huma.Operation{OperationID: "set-delay", Method: http.MethodPut, Path: "/api/v1/delay", Summary: "Set the delayed viewer delay", Tags: []string{"Viewer"}},
		func(ctx context.Context, input *struct {
			Body struct {
				DelayMS int `json:"delay_ms" required:"true" minimum:"2000" maximum:"10000" multipleOf:"500" doc:"Delay in milliseconds, 2000-10000 in 500ms steps"`
			}
		}) (*delayOutput, error) {
			snap, err := svc.SetDelay(ctx, input.Body.DelayMS)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &delayOutput{}
			out.Body = snap
			return out, nil
		})
}

func registerVideoHandlers(api huma.API, svc Service) {
	type videoOutput struct {
		Body cdpcontrol.VideoStatus
	}
	huma.Register(api, huma.Operation{OperationID: "video-command", Method: http.MethodPost, Path: "/api/v1/video/{command}", Summary: "Control the captured page video", Tags: []string{"Video"}},
		func(ctx context.Context, input *struct {
			Command string `path:"command" enum:"play,pause,mute,unmute,status" doc:"Playback command"`
		}) (*videoOutput, error) {
			st, err := svc.VideoCommand(ctx, input.Command)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &videoOutput{}
			out.Body = st
			return out, nil
		})
}
