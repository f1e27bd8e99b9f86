package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
)

const (
	codeValidation = 42200
	codeNotFound   = 40400
	codeConflict   = 40900
	codeInternal   = 50000
)

type Services struct {
	Catalog *application.CatalogService
	Layouts *application.LayoutService
	Audit   *application.AuditService
}

type Server struct {
	services Services
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type fieldParams struct {
	ID    uint `json:"id"`
	Force bool `json:"force"`
}

type layoutParams struct {
	AssociateType string               `json:"associateType"`
	Format        string               `json:"format"`
	Layout        *domain.Layout       `json:"layout"`
	Fields        []domain.LayoutField `json:"fields"`
}

type evaluateParams struct {
	AssociateType string `json:"associateType"`
	application.EvaluateInput
}

func Start(path string, services Services) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{services: services, listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "fields.list":
		fields, err := s.services.Catalog.ListFields(ctx)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, fields)
	case "fields.create":
		var p application.CreateFieldInput
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		field, err := s.services.Catalog.CreateField(ctx, p)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, field)
	case "fields.delete":
		var p fieldParams
		if !decodeParams(req.Params, &p) || p.ID == 0 {
			return invalidParams(req.ID)
		}
		if err := s.services.Catalog.DeleteField(ctx, p.ID, p.Force); err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, map[string]any{"id": p.ID, "deleted": true})
	case "fields.usage":
		var p fieldParams
		if !decodeParams(req.Params, &p) || p.ID == 0 {
			return invalidParams(req.ID)
		}
		usage, err := s.services.Catalog.FieldUsage(ctx, p.ID)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, map[string]any{"id": p.ID, "associateTypes": usage})
	case "layouts.types":
		return result(req.ID, s.services.Layouts.AssociateTypes())
	case "layouts.get":
		var p layoutParams
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if p.Format == "flat" {
			items, err := s.services.Layouts.GetFlatLayout(ctx, p.AssociateType)
			if err != nil {
				return appError(req.ID, err)
			}
			return result(req.ID, items)
		}
		layout, err := s.services.Layouts.GetLayout(ctx, p.AssociateType)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, layout)
	case "layouts.save":
		return s.handleSaveLayout(ctx, req)
	case "layouts.evaluate":
		var p evaluateParams
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.services.Layouts.Evaluate(ctx, p.AssociateType, p.EvaluateInput)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, out)
	case "audit.list":
		var p struct {
			Limit int `json:"limit"`
		}
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		logs, err := s.services.Audit.ListAuditLogs(ctx, p.Limit)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, logs)
	case "system.health":
		health, err := s.services.Audit.Health(ctx)
		if err != nil {
			return appError(req.ID, err)
		}
		return result(req.ID, health)
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
	}
}

// handleSaveLayout takes either "layout" (step-grouped) or "fields" (the
// flattened list) and answers in the same shape.
func (s *Server) handleSaveLayout(ctx context.Context, req request) response {
	var p layoutParams
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	switch {
	case p.Layout != nil:
		saved, err := s.services.Layouts.SaveLayout(ctx, p.AssociateType, *p.Layout)
		if err != nil {
			return appError(req.ID, err)
		}
		if p.Format == "flat" {
			return result(req.ID, domain.Flatten(saved))
		}
		return result(req.ID, saved)
	case p.Fields != nil:
		saved, err := s.services.Layouts.SaveFlatLayout(ctx, p.AssociateType, p.Fields)
		if err != nil {
			return appError(req.ID, err)
		}
		if p.Format == "grouped" {
			return result(req.ID, saved)
		}
		return result(req.ID, domain.Flatten(saved))
	default:
		return invalidParams(req.ID)
	}
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func result(id any, value any) response {
	return response{JSONRPC: "2.0", Result: value, ID: id}
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

func appError(id any, err error) response {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeValidation, Message: validation.Message, Data: map[string]any{"field": validation.Field}}, ID: id}
	case errors.As(err, &notFound):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeNotFound, Message: notFound.Error()}, ID: id}
	case errors.As(err, &conflict):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeConflict, Message: conflict.Error()}, ID: id}
	default:
		return internalError(id, err)
	}
}

func internalError(id any, err error) response {
	log.Printf("rpc: %v", err)
	return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInternal, Message: fmt.Sprintf("internal error: %v", err)}, ID: id}
}
