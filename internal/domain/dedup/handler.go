package dedup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medpractice/records/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
	workbook func(io.Writer, *Report, map[uuid.UUID]ReferenceCounts) error
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New(), workbook: WriteWorkbook}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.Require(auth.PermDuplicateRead))
	readGroup.GET("/duplicates", h.ListDuplicates)
	readGroup.GET("/duplicates/statistics", h.GetStatistics)
	readGroup.GET("/duplicates/export", h.ExportDuplicates)
	readGroup.GET("/duplicates/:groupId", h.GetGroup)
	readGroup.GET("/patients/:id/references", h.GetReferenceCounts)

	api.POST("/duplicates/:groupId/merge", h.MergeGroup, auth.Require(auth.PermDuplicateMerge))
}

// mergeRequest is the wire form of MergeDecision.
type mergeRequest struct {
	FieldSources      map[string]string `json:"field_sources" validate:"required,min=1,dive,keys,oneof=last_name first_name external_id birth_date address phone,endkeys,uuid"`
	RetainedRecordIDs []string          `json:"retained_record_ids" validate:"omitempty,dive,uuid"`
}

func (r mergeRequest) decision() MergeDecision {
	d := MergeDecision{FieldSources: make(map[Field]uuid.UUID, len(r.FieldSources))}
	for f, id := range r.FieldSources {
		d.FieldSources[Field(f)] = uuid.MustParse(id)
	}
	for _, id := range r.RetainedRecordIDs {
		d.RetainedRecordIDs = append(d.RetainedRecordIDs, uuid.MustParse(id))
	}
	return d
}

func (h *Handler) ListDuplicates(c echo.Context) error {
	report, err := h.svc.Report(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if report.Groups == nil {
		report.Groups = []DuplicateGroup{}
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) GetStatistics(c echo.Context) error {
	st, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) GetGroup(c echo.Context) error {
	id, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid group id")
	}
	g, err := h.svc.FindGroup(c.Request().Context(), id)
	if errors.Is(err, ErrGroupNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) GetReferenceCounts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	counts, err := h.svc.ReferenceCounts(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_id":    id,
		"care_sheets":   counts.CareSheets,
		"prescriptions": counts.Prescriptions,
		"total":         counts.Total(),
	})
}

func (h *Handler) ExportDuplicates(c echo.Context) error {
	ctx := c.Request().Context()
	report, err := h.svc.Report(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	refs, err := h.svc.AllReferenceCounts(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var buf bytes.Buffer
	if err := h.workbook(&buf, report, refs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=duplicates-%s.xlsx", report.GeneratedAt.Format("20060102")))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// MergeGroup merges a group, or with ?preview=true returns the plan without
// writing anything.
func (h *Handler) MergeGroup(c echo.Context) error {
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid group id")
	}
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	preview, _ := strconv.ParseBool(c.QueryParam("preview"))

	ctx := c.Request().Context()
	if preview {
		plan, err := h.svc.PreviewMerge(ctx, groupID, req.decision())
		if err != nil {
			return mergeFailure(c, err)
		}
		return c.JSON(http.StatusOK, plan)
	}

	report, err := h.svc.Merge(ctx, groupID, req.decision())
	if err != nil {
		return mergeFailure(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

type mergeErrorBody struct {
	Message   string      `json:"message"`
	Kind      ErrorKind   `json:"kind"`
	Step      Step        `json:"step"`
	RetrySafe bool        `json:"retry_safe"`
	RecordID  *uuid.UUID  `json:"record_id,omitempty"`
	Deleted   []uuid.UUID `json:"deleted,omitempty"`
	Pending   []uuid.UUID `json:"pending,omitempty"`
}

func mergeFailure(c echo.Context, err error) error {
	if errors.Is(err, ErrGroupNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "duplicate group not found; rescan and retry")
	}
	var me *MergeError
	if !errors.As(err, &me) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	status := http.StatusInternalServerError
	switch me.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindPersistence:
		status = http.StatusBadGateway
	}
	body := mergeErrorBody{
		Message:   me.Error(),
		Kind:      me.Kind,
		Step:      me.Step,
		RetrySafe: me.RetrySafe(),
		Deleted:   me.Deleted,
		Pending:   me.Pending,
	}
	if me.RecordID != uuid.Nil {
		id := me.RecordID
		body.RecordID = &id
	}
	return c.JSON(status, body)
}
