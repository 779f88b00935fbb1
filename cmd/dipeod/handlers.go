package main

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/diagram/importer"
	"github.com/dipeo/dipeo-core/internal/runtime"
	"github.com/dipeo/dipeo-core/internal/state"
)

// api groups every HTTP/WS handler dipeod serves, mirroring the
// teacher's routes.go convention of one handler struct per resource
// family built from the services a container hands it.
type api struct {
	rt       *runtime.Runtime
	store    *diagramStore
	importer *importer.Importer
}

func newAPI(rt *runtime.Runtime, store *diagramStore) *api {
	return &api{rt: rt, store: store, importer: importer.New()}
}

func registerRoutes(e *echo.Echo, a *api) {
	executions := e.Group("/api/v1/executions")
	executions.POST("", a.executeDiagram)
	executions.GET("", a.listExecutions)
	executions.GET("/:id", a.getExecution)
	executions.POST("/:id/control", a.controlExecution)

	e.GET("/api/v1/diagrams/:id", a.getDiagram)
	e.POST("/api/v1/diagrams", a.createDiagram)

	e.GET("/ws", a.subscribe)
}

// executeDiagramRequest accepts either an inline diagram (any of the
// three import surfaces, sniffed by DetectFormat) or a reference to one
// already registered via createDiagram.
type executeDiagramRequest struct {
	DiagramID    diagram.DiagramID `json:"diagram_id,omitempty"`
	Diagram      string            `json:"diagram,omitempty"`
	Format       importer.Format   `json:"format,omitempty"`
	InitialInput map[string]any    `json:"initial_input,omitempty"`
}

// executeDiagram implements POST /api/v1/executions (spec §6.1):
// compiles (or looks up) a diagram and runs it to completion, streaming
// progress to anyone subscribed on /ws?execution_id=... concurrently.
func (a *api) executeDiagram(c echo.Context) error {
	var req executeDiagramRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var d *diagram.DomainDiagram
	diagramID := req.DiagramID
	if len(req.Diagram) > 0 {
		imported, err := a.importer.Import([]byte(req.Diagram), importer.ImportOptions{Format: req.Format})
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		d = imported
		if diagramID == "" {
			diagramID = diagram.DiagramID(uuid.NewString())
		}
	} else if diagramID != "" {
		existing, ok := a.store.Domain(diagramID)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown diagram_id")
		}
		d = existing
	} else {
		return echo.NewHTTPError(http.StatusBadRequest, "one of diagram_id or diagram is required")
	}

	if _, err := a.store.Put(diagramID, d); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	executionID := diagram.ExecutionID(uuid.NewString())
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		if _, err := a.rt.CompileAndRun(ctx, d, executionID, req.InitialInput); err != nil {
			a.rt.Log.WithExecutionID(string(executionID)).Error("execution failed", "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": executionID,
		"diagram_id":   diagramID,
	})
}

// getExecution implements GET /api/v1/executions/:id.
func (a *api) getExecution(c echo.Context) error {
	id := diagram.ExecutionID(c.Param("id"))
	es, err := a.rt.State.GetExecutionState(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, es)
}

// listExecutions implements GET /api/v1/executions?diagram_id=&status=&limit=&offset=.
func (a *api) listExecutions(c echo.Context) error {
	filter := state.ListFilter{
		DiagramID: diagram.DiagramID(c.QueryParam("diagram_id")),
		Status:    state.ExecutionStatus(c.QueryParam("status")),
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		filter.Offset = offset
	}
	results, err := a.rt.State.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}

// controlRequest is the body POST /api/v1/executions/:id/control accepts.
type controlRequest struct {
	Action string `json:"action"` // PAUSE | RESUME | ABORT | SKIP_NODE
	NodeID string `json:"node_id,omitempty"`
}

// controlExecution implements POST /api/v1/executions/:id/control (spec
// §6.1). Only ABORT has a scheduler-level primitive today
// (engine.AbortRegistry cancels the run's context); PAUSE/RESUME/
// SKIP_NODE require per-node state machine transitions the driving loop
// doesn't expose yet and are rejected rather than silently ignored.
func (a *api) controlExecution(c echo.Context) error {
	id := diagram.ExecutionID(c.Param("id"))
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch req.Action {
	case "ABORT":
		if !a.rt.Aborts.Abort(id) {
			return echo.NewHTTPError(http.StatusNotFound, "no running execution with that id")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "aborting"})
	case "PAUSE", "RESUME", "SKIP_NODE":
		return echo.NewHTTPError(http.StatusNotImplemented, req.Action+" is not yet supported by the driving loop")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

// getDiagram implements GET /api/v1/diagrams/:id.
func (a *api) getDiagram(c echo.Context) error {
	id := diagram.DiagramID(c.Param("id"))
	d, ok := a.store.Domain(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown diagram id")
	}
	return c.JSON(http.StatusOK, d)
}

// createDiagram implements POST /api/v1/diagrams: register a diagram
// without running it, so a later executeDiagram call can reference it
// by id.
func (a *api) createDiagram(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	format := importer.Format(c.QueryParam("format"))
	d, err := a.importer.Import(body, importer.ImportOptions{Format: format})
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	id := diagram.DiagramID(uuid.NewString())
	if _, err := a.store.Put(id, d); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{"diagram_id": id})
}

// subscribe implements GET /ws?execution_id=...: upgrades to a
// WebSocket and registers a wsSubscriber on the router so every bus
// event for that execution streams to this connection as its own frame
// (spec §6.1).
func (a *api) subscribe(c echo.Context) error {
	executionID := diagram.ExecutionID(c.QueryParam("execution_id"))
	if executionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution_id is required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := newWSSubscriber(conn)
	subID := a.rt.Router.Register(executionID, sub)

	go func() {
		<-sub.done
		a.rt.Router.Unregister(executionID, subID)
	}()

	return nil
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(c.Request().Body)
}
