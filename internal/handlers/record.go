package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
	"realtycrm/internal/crm/view"
	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RecordHandler serves the list and detail endpoints of one entity kind
type RecordHandler struct {
	kind            crm.EntityKind
	pipeline        *services.PipelineService
	fields          *services.CustomFieldService
	sheets          *services.SpreadsheetService
	defaultPageSize int
	maxPageSize     int
}

// NewRecordHandler creates the handler of kind
func NewRecordHandler(kind crm.EntityKind, pipeline *services.PipelineService, fields *services.CustomFieldService, sheets *services.SpreadsheetService, defaultPageSize, maxPageSize int) *RecordHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = view.DefaultPageSize
	}
	if maxPageSize < defaultPageSize {
		maxPageSize = defaultPageSize
	}
	return &RecordHandler{
		kind:            kind,
		pipeline:        pipeline,
		fields:          fields,
		sheets:          sheets,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// Routes mounts the handler on r, which is the kind's collection path
func (h *RecordHandler) Routes(r fiber.Router, managers ...fiber.Handler) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Get("/aging", h.Aging)
	r.Get("/filters", h.Filters)
	r.Get("/export", h.Export)
	r.Post("/import", append(managers, h.Import)...)
	r.Get("/:id", h.Get)
	r.Put("/:id", h.Update)
	r.Delete("/:id", append(managers, h.Delete)...)
	r.Post("/:id/transition", h.Transition)
	r.Get("/:id/history", h.History)
}

// filters reads the filter selections from the query string. A request
// naming no filter gets the schema defaults.
func (h *RecordHandler) filters(c *fiber.Ctx) (filter.State, *filter.Schema, error) {
	schema, err := h.pipeline.Schema(h.kind)
	if err != nil {
		return nil, nil, err
	}
	state := filter.StateFromQuery(schema, c.Queries())
	if len(state) == 0 {
		state = filter.Clear(schema)
	}
	return state, schema, nil
}

func sortFromQuery(c *fiber.Ctx) view.SortState {
	key := c.Query("sort")
	if key == "" {
		return view.Unsorted
	}
	return view.SortState{Key: key, Direction: view.ParseDirection(c.Query("dir"))}
}

// listState builds the list state of a GET request
func (h *RecordHandler) listState(c *fiber.Ctx) (view.ListState, error) {
	filters, schema, err := h.filters(c)
	if err != nil {
		return view.ListState{}, err
	}

	pageSize := c.QueryInt("pageSize", h.defaultPageSize)
	if pageSize <= 0 {
		pageSize = h.defaultPageSize
	}
	if pageSize > h.maxPageSize {
		pageSize = h.maxPageSize
	}

	state := view.NewListState(schema, pageSize).WithSort(sortFromQuery(c))
	state.Filters = filters
	if page := c.QueryInt("page", 1); page > 1 {
		state = state.GoTo(page)
	}
	return state, nil
}

// List returns one page of the filtered and sorted collection
// GET /api/{kind}
func (h *RecordHandler) List(c *fiber.Ctx) error {
	state, err := h.listState(c)
	if err != nil {
		return respondError(c, err)
	}
	page, err := h.pipeline.List(c.UserContext(), h.kind, state)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// Get returns one record
// GET /api/{kind}/:id
func (h *RecordHandler) Get(c *fiber.Ctx) error {
	record, err := h.pipeline.Get(c.UserContext(), h.kind, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(record)
}

// Create stores a new record
// POST /api/{kind}
func (h *RecordHandler) Create(c *fiber.Ctx) error {
	var in models.RecordInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}

	values, err := h.fields.ValidateValues(c.UserContext(), h.kind, in.CustomFields, true)
	if err != nil {
		return respondError(c, err)
	}
	in.CustomFields = values

	record, err := in.ToRecord(h.kind, time.Now().UTC())
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.pipeline.Create(c.UserContext(), h.kind, record, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("✅ [%s] Created %s by %s", h.tag(), created.ID, middleware.UserID(c))
	return c.Status(fiber.StatusCreated).JSON(created)
}

// Update applies an edit. The body may be the whole record as returned by
// Get. A changed stage goes through the stage machine like a transition.
// PUT /api/{kind}/:id
func (h *RecordHandler) Update(c *fiber.Ctx) error {
	var in models.PatchInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}
	in = in.Flatten()

	if raw, ok := in["customFields"]; ok {
		values, ok := raw.(map[string]any)
		if !ok {
			return badRequest(c, "customFields must be an object")
		}
		checked, err := h.fields.ValidateValues(c.UserContext(), h.kind, values, false)
		if err != nil {
			return respondError(c, err)
		}
		in["customFields"] = checked
	}

	patch, stage, err := in.ToPatch()
	if err != nil {
		return respondError(c, err)
	}

	updated, err := h.pipeline.Update(c.UserContext(), h.kind, c.Params("id"), patch, stage, middleware.UserID(c))
	if err != nil {
		return h.transitionError(c, updated, err)
	}
	return c.JSON(updated)
}

// Delete removes a record
// DELETE /api/{kind}/:id
func (h *RecordHandler) Delete(c *fiber.Ctx) error {
	if err := h.pipeline.Remove(c.UserContext(), h.kind, c.Params("id"), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// TransitionRequest is the body of a stage change
type TransitionRequest struct {
	Stage string `json:"stage"`
}

// Transition moves a record to another stage
// POST /api/{kind}/:id/transition
func (h *RecordHandler) Transition(c *fiber.Ctx) error {
	var req TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Stage == "" {
		return badRequest(c, "stage is required")
	}

	updated, err := h.pipeline.RequestTransition(c.UserContext(), h.kind, c.Params("id"), req.Stage, middleware.UserID(c))
	if err != nil {
		return h.transitionError(c, updated, err)
	}
	return c.JSON(updated)
}

// transitionError reports a rejected stage change together with the record
// as it is stored, so the client can roll back its optimistic update
func (h *RecordHandler) transitionError(c *fiber.Ctx, current crm.Record, err error) error {
	var transitionErr *crm.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		return respondError(c, err)
	}
	body := fiber.Map{
		"error": err.Error(),
		"from":  transitionErr.From,
		"to":    transitionErr.To,
	}
	if current.ID != "" {
		body["record"] = current
	}
	return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
}

// History returns the stage changes of a record. It stays readable after
// the record is deleted.
// GET /api/{kind}/:id/history
func (h *RecordHandler) History(c *fiber.Ctx) error {
	entries, err := h.pipeline.History(c.UserContext(), h.kind, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"history": entries})
}

// Stats returns the per-stage summary of the filtered collection
// GET /api/{kind}/stats
func (h *RecordHandler) Stats(c *fiber.Ctx) error {
	filters, _, err := h.filters(c)
	if err != nil {
		return respondError(c, err)
	}
	summary, err := h.pipeline.Summary(c.UserContext(), h.kind, filters)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// Aging returns how long the filtered records have sat in their stage
// GET /api/{kind}/aging
func (h *RecordHandler) Aging(c *fiber.Ctx) error {
	filters, _, err := h.filters(c)
	if err != nil {
		return respondError(c, err)
	}
	buckets, err := h.pipeline.Aging(c.UserContext(), h.kind, filters)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"buckets": buckets})
}

// Filters describes the filters of the kind and the selections a list
// starts from
// GET /api/{kind}/filters
func (h *RecordHandler) Filters(c *fiber.Ctx) error {
	schema, err := h.pipeline.Schema(h.kind)
	if err != nil {
		return respondError(c, err)
	}
	machine, err := h.pipeline.Machine(h.kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"kind":     h.kind,
		"keys":     schema.Keys(),
		"defaults": schema.Defaults(),
		"stages":   machine.Stages(),
	})
}

// Export downloads the filtered and sorted collection as a workbook
// GET /api/{kind}/export
func (h *RecordHandler) Export(c *fiber.Ctx) error {
	filters, _, err := h.filters(c)
	if err != nil {
		return respondError(c, err)
	}

	var buf bytes.Buffer
	n, err := h.sheets.Export(c.UserContext(), h.kind, filters, sortFromQuery(c), &buf)
	if err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("%s-%s.xlsx", h.kind.Plural(), time.Now().UTC().Format("2006-01-02"))
	log.Printf("📤 [%s] Exported %d records", h.tag(), n)
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(buf.Bytes())
}

// Import creates records from the first sheet of an uploaded workbook
// POST /api/{kind}/import (multipart field "file")
func (h *RecordHandler) Import(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	f, err := header.Open()
	if err != nil {
		return badRequest(c, "failed to read uploaded file")
	}
	defer f.Close()

	result, err := h.sheets.Import(c.UserContext(), h.kind, f, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (h *RecordHandler) tag() string {
	switch h.kind {
	case crm.KindOpportunity:
		return "OPPORTUNITIES"
	case crm.KindVisit:
		return "VISITS"
	}
	return "LEADS"
}
