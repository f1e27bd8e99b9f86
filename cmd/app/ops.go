package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
)

type fieldUsage struct {
	ID             uint     `json:"id"`
	AssociateTypes []string `json:"associateTypes"`
}

func doHealth(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "system.health", nil, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodGet, "/healthz", nil, out)
}

func doFieldsList(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "fields.list", nil, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodGet, "/fields", nil, out)
}

func doFieldsCreate(ctx context.Context, cfg cliConfig, in application.CreateFieldInput, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "fields.create", in, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodPost, "/fields", in, out)
}

func doFieldsDelete(ctx context.Context, cfg cliConfig, id uint, force bool) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "fields.delete", map[string]any{"id": id, "force": force}, nil)
	}
	client := newAPIClient(cfg.Server)
	path := "/fields/" + uintToString(id)
	if force {
		path += "?force=true"
	}
	return client.request(ctx, http.MethodDelete, path, nil, nil)
}

func doFieldsUsage(ctx context.Context, cfg cliConfig, id uint, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "fields.usage", map[string]any{"id": id}, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodGet, "/fields/"+uintToString(id)+"/usage", nil, out)
}

func doLayoutTypes(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "layouts.types", nil, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodGet, "/layouts", nil, out)
}

func doLayoutGet(ctx context.Context, cfg cliConfig, associateType string, flat bool, out any) error {
	format := ""
	if flat {
		format = "flat"
	}
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "layouts.get", map[string]any{"associateType": associateType, "format": format}, out)
	}
	client := newAPIClient(cfg.Server)
	path := "/layouts/" + url.PathEscape(associateType)
	if flat {
		path += "?format=flat"
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

// doLayoutSave sends a grouped layout object or a flattened array as-is.
// The reply comes back in the grouped shape.
func doLayoutSave(ctx context.Context, cfg cliConfig, associateType string, body json.RawMessage, out any) error {
	flat := bytes.HasPrefix(bytes.TrimSpace(body), []byte("["))
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		params := map[string]any{"associateType": associateType, "format": "grouped"}
		if flat {
			params["fields"] = body
		} else {
			params["layout"] = body
		}
		return client.call(ctx, "layouts.save", params, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodPut, "/layouts/"+url.PathEscape(associateType)+"?format=grouped", body, out)
}

func doLayoutEvaluate(ctx context.Context, cfg cliConfig, associateType string, in application.EvaluateInput, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		params := map[string]any{"associateType": associateType, "data": in.Data, "role": in.Role}
		if in.StepIndex != nil {
			params["stepIndex"] = *in.StepIndex
		}
		return client.call(ctx, "layouts.evaluate", params, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodPost, "/layouts/"+url.PathEscape(associateType)+"/evaluate", in, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, limit int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "audit.list", map[string]any{"limit": limit}, out)
	}
	client := newAPIClient(cfg.Server)
	return client.request(ctx, http.MethodGet, "/audit/logs?limit="+strconv.Itoa(limit), nil, out)
}

func uintToString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
