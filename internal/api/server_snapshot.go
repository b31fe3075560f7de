package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/sportscaster/internal/snapshot"
)

func registerSnapshotHandlers(api huma.API, svc Service) {
	type takeSnapshotOutput struct {
		Body struct {
			Snapshot snapshot.SnapshotMeta `json:"snapshot"`
			URL      string                `json:"url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "take-snapshot", Method: http.MethodPost, Path: "/api/v1/snapshots", Summary: "Save the latest frame as a snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Source string `json:"source,omitempty" enum:"preview,annotated" doc:"preview (default) saves the latest tab frame, annotated the latest commentary frame"`
				Notes  string `json:"notes,omitempty" doc:"Free-form annotation for the snapshot"`
			}
		}) (*takeSnapshotOutput, error) {
			meta, err := svc.TakeSnapshot(ctx, input.Body.Source, input.Body.Notes)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &takeSnapshotOutput{}
			out.Body.Snapshot = meta
			out.Body.URL = "/api/v1/snapshots/" + meta.ID + "/image"
			return out, nil
		})

	type listSnapshotsOutput struct {
		Body struct {
			Snapshots []snapshot.SnapshotMeta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List snapshots", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*listSnapshotsOutput, error) {
			metas, err := svc.ListSnapshots(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSnapshotsOutput{}
			out.Body.Snapshots = metas
			if out.Body.Snapshots == nil {
				out.Body.Snapshots = []snapshot.SnapshotMeta{}
			}
			return out, nil
		})

	type snapshotIDInput struct {
		SnapshotID string `path:"snapshot_id"`
	}
	type getSnapshotOutput struct {
		Body snapshot.SnapshotMeta
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot-metadata", Method: http.MethodGet, Path: "/api/v1/snapshots/{snapshot_id}/metadata", Summary: "Get snapshot metadata", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*getSnapshotOutput, error) {
			meta, err := svc.GetSnapshot(ctx, input.SnapshotID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &getSnapshotOutput{}
			out.Body = meta
			return out, nil
		})

	type snapshotImageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshots/{snapshot_id}/image",
		Summary:     "Get snapshot image",
		Tags:        []string{"Snapshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Snapshot image",
				Content: map[string]*huma.MediaType{
					"image/jpeg": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"image/png":  {Schema: &huma.Schema{Type: "string", Format: "binary"}},
				},
			},
		},
	}, func(ctx context.Context, input *snapshotIDInput) (*snapshotImageOutput, error) {
		data, format, err := svc.ReadSnapshotImage(ctx, input.SnapshotID)
		if err != nil {
			return nil, mapErr(err)
		}
		ct := "image/jpeg"
		if format == "png" {
			ct = "image/png"
		}
		return &snapshotImageOutput{ContentType: ct, Body: data}, nil
	})

	type deleteSnapshotOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/snapshots/{snapshot_id}", Summary: "Delete snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *snapshotIDInput) (*deleteSnapshotOutput, error) {
			if err := svc.DeleteSnapshot(ctx, input.SnapshotID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteSnapshotOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
