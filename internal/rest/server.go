package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bpmnworks/engine/internal/config"
	"github.com/bpmnworks/engine/internal/rest/middleware"
	"github.com/bpmnworks/engine/pkg/bpmn"
	"github.com/bpmnworks/engine/pkg/bpmn/runtime"
)

// Server is the thin HTTP mapping onto ProcessManager operations.
type Server struct {
	manager     *bpmn.ProcessManager
	idempotency *IdempotencyStore
	logger      hclog.Logger
	httpServer  *http.Server
}

// Link is the "self" hypermedia link carried on every instance view.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// InstanceView is the REST façade's JSON shape for one process instance.
type InstanceView struct {
	Id         string                 `json:"id"`
	Name       string                 `json:"name"`
	Link       Link                   `json:"link"`
	State      runtime.ProcessState   `json:"state"`
	History    runtime.ProcessHistory `json:"history"`
	Properties map[string]interface{} `json:"properties"`
}

func newInstanceView(pi *bpmn.ProcessInstance) InstanceView {
	name := pi.Definition().Name
	id := pi.ProcessId()
	return InstanceView{
		Id:         id,
		Name:       name,
		Link:       Link{Rel: "self", Href: "/" + url.PathEscape(name) + "/" + url.PathEscape(id)},
		State:      pi.State(),
		History:    pi.History(),
		Properties: pi.GetProperties(),
	}
}

// errorBody is the typed error envelope: BPMNParseError attaches
// the parse-error queue; BPMNExecutionError carries the stringified cause.
type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  []bpmnParseErrorDTO `json:"errors,omitempty"`
}

type bpmnParseErrorDTO struct {
	Code    string `json:"code"`
	Element string `json:"element"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

func writeErrFromManager(w http.ResponseWriter, logger hclog.Logger, err error) {
	var parseErr *bpmn.ParseError
	if errors.As(err, &parseErr) {
		dtos := make([]bpmnParseErrorDTO, 0, len(parseErr.Errors))
		for _, e := range parseErr.Errors {
			dtos = append(dtos, bpmnParseErrorDTO{Code: e.Code, Element: e.Element, Message: e.Message})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorBody{Code: "BPMNParseError", Message: err.Error(), Errors: dtos})
		return
	}
	logger.Debug("manager operation failed", "error", err)
	writeError(w, http.StatusBadRequest, "BPMNExecutionError", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewServer builds the chi router over manager.
func NewServer(manager *bpmn.ProcessManager, conf config.Config, logger hclog.Logger) (*Server, error) {
	s := &Server{
		manager:     manager,
		idempotency: NewIdempotencyStore(),
		logger:      logger.Named("rest"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Cors())
	r.Use(middleware.CorrelationId())
	r.Use(middleware.StripEmptyQueryParams())
	r.Use(middleware.Opentelemetry(conf))

	validate, err := newValidationMiddleware(s.logger)
	if err != nil {
		return nil, err
	}
	r.Use(validate)

	mount := func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Post("/bpmnCollaborate", s.handleCreateCollaboration)
		r.Post("/{processName}", s.handleCreateProcess)
		r.Post("/{processName}/{startEventName}", s.handleCreateAndStartProcess)
		r.Get("/{processName}/{id}", s.handleGetInstance)
		r.Get("/{processName}", s.handleFindProcesses)
		r.Put("/{processName}/{id}/{messageName}/{messageId}", s.handleDeliverMessage)
	}
	if prefix := strings.TrimSuffix(conf.Server.Context, "/"); prefix != "" {
		r.Route(prefix, mount)
	} else {
		mount(r)
	}

	s.httpServer = &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return s, nil
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type processDescriptorDTO struct {
	Name           string `json:"name"`
	Id             string `json:"id"`
	StartEventName string `json:"startEventName"`
}

type createCollaborationRequest struct {
	ProcessDescriptors []processDescriptorDTO `json:"processDescriptors"`
}

func (s *Server) handleCreateCollaboration(w http.ResponseWriter, r *http.Request) {
	var body createCollaborationRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BPMNExecutionError", err.Error())
		return
	}
	descriptors := make([]bpmn.ProcessDescriptor, 0, len(body.ProcessDescriptors))
	for _, d := range body.ProcessDescriptors {
		descriptors = append(descriptors, bpmn.ProcessDescriptor{Id: d.Id, Name: d.Name, StartEventName: d.StartEventName})
	}
	instances, err := s.manager.CreateCollaboration(descriptors)
	if err != nil {
		writeErrFromManager(w, s.logger, err)
		return
	}
	views := make([]InstanceView, 0, len(instances))
	for _, pi := range instances {
		views = append(views, newInstanceView(pi))
	}
	writeJSON(w, http.StatusCreated, views)
}

func (s *Server) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	processName := chi.URLParam(r, "processName")
	pi, err := s.manager.CreateProcess(processName)
	if err != nil {
		writeErrFromManager(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInstanceView(pi))
}

func (s *Server) handleCreateAndStartProcess(w http.ResponseWriter, r *http.Request) {
	processName := chi.URLParam(r, "processName")
	startEventName := chi.URLParam(r, "startEventName")
	var data interface{}
	if err := decodeBody(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "BPMNExecutionError", err.Error())
		return
	}
	pi, err := s.manager.CreateProcess(processName)
	if err != nil {
		writeErrFromManager(w, s.logger, err)
		return
	}
	if err := pi.TriggerEvent(startEventName, data); err != nil {
		writeErrFromManager(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInstanceView(pi))
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pi, ok := s.manager.GetInstance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "BPMNExecutionError", "no instance with id "+id)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceView(pi))
}

func (s *Server) handleFindProcesses(w http.ResponseWriter, r *http.Request) {
	processName := chi.URLParam(r, "processName")
	query := r.URL.Query()

	var instances []*bpmn.ProcessInstance
	if state := query.Get("state"); state != "" {
		instances = s.manager.FindByState(state)
	} else {
		instances = s.manager.FindByName(processName, true)
	}

	props := map[string]interface{}{}
	for k, vs := range query {
		if k == "state" || len(vs) == 0 {
			continue
		}
		props[k] = vs[0]
	}
	if len(props) > 0 {
		matched := s.manager.FindByProperty(props)
		instances = intersectByProcessId(instances, matched)
	}

	filtered := make([]*bpmn.ProcessInstance, 0, len(instances))
	for _, pi := range instances {
		if pi.Definition().Name == processName {
			filtered = append(filtered, pi)
		}
	}

	views := make([]InstanceView, 0, len(filtered))
	for _, pi := range filtered {
		views = append(views, newInstanceView(pi))
	}
	writeJSON(w, http.StatusOK, views)
}

func intersectByProcessId(a, b []*bpmn.ProcessInstance) []*bpmn.ProcessInstance {
	ids := map[string]bool{}
	for _, pi := range b {
		ids[pi.ProcessId()] = true
	}
	out := make([]*bpmn.ProcessInstance, 0, len(a))
	for _, pi := range a {
		if ids[pi.ProcessId()] {
			out = append(out, pi)
		}
	}
	return out
}

// handleDeliverMessage is the idempotent message trigger: the
// (processName, id, messageName, messageId) key is checked BEFORE
// triggering anything, so a replayed delivery never re-runs the event —
// the second and subsequent PUTs of the same key produce no state change
// and answer 200 with the originally recorded view.
func (s *Server) handleDeliverMessage(w http.ResponseWriter, r *http.Request) {
	processName := chi.URLParam(r, "processName")
	id := chi.URLParam(r, "id")
	messageName := chi.URLParam(r, "messageName")
	messageId := chi.URLParam(r, "messageId")

	pi, ok := s.manager.GetInstance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "BPMNExecutionError", "no instance with id "+id)
		return
	}

	if view, seen := s.idempotency.peek(processName, id, messageName, messageId); seen {
		writeJSON(w, http.StatusOK, view)
		return
	}

	var data interface{}
	if err := decodeBody(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "BPMNExecutionError", err.Error())
		return
	}
	if err := pi.TriggerEvent(messageName, data); err != nil {
		writeErrFromManager(w, s.logger, err)
		return
	}

	view, alreadyDelivered := s.idempotency.CheckAndRecord(processName, id, messageName, messageId, newInstanceView(pi))
	if alreadyDelivered {
		// Lost the race to a concurrent duplicate delivery: the event we
		// just triggered already happened once more than intended, but the
		// response still reflects the first recorded view per the
		// idempotency contract.
		writeJSON(w, http.StatusOK, view)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}
