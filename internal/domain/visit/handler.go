package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/visitflow/internal/platform/apperr"
	"github.com/ehr/visitflow/internal/platform/auth"
	"github.com/ehr/visitflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var staffRoles = []string{RoleFrontDesk, DeptLab.Role(), DeptPharmacy.Role(), DeptDoctor.Role()}

// RegisterRoutes mounts the visit workflow. Token roles gate each route; the
// service re-checks the actor against the directory.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(staffRoles...))
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/by-number/:number", h.GetVisitByNumber)
	read.GET("/visits/:id/history", h.GetStatusHistory)
	read.GET("/departments/:department/visits", h.ListNeedingDepartment)

	frontDesk := api.Group("", auth.RequireRole(RoleFrontDesk))
	frontDesk.POST("/visits", h.CreateVisit)
	frontDesk.POST("/visits/:id/force-close", h.ForceClose)

	doctor := api.Group("", auth.RequireRole(DeptDoctor.Role()))
	doctor.POST("/visits/:id/items", h.SelectItems)

	dept := api.Group("", auth.RequireRole(DeptLab.Role(), DeptPharmacy.Role(), DeptDoctor.Role()))
	dept.POST("/visits/:id/completion/:department", h.ToggleCompletion)
}

func actor(c echo.Context) (uuid.UUID, error) {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return uid, nil
}

func visitID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateVisit(c echo.Context) error {
	uid, err := actor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ActorID = uid
	v, err := h.svc.CreateVisit(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetVisitByNumber(c echo.Context) error {
	v, err := h.svc.GetVisitByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListVisits(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if visits == nil {
		visits = []*Visit{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) ListNeedingDepartment(c echo.Context) error {
	d, err := ParseDepartment(c.Param("department"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListNeedingDepartment(c.Request().Context(), d, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if visits == nil {
		visits = []*Visit{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := visitID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if entries == nil {
		entries = []*StatusHistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

type selectItemsRequest struct {
	LabTestIDs []uuid.UUID `json:"lab_test_ids"`
	DrugIDs    []uuid.UUID `json:"drug_ids"`
}

func (h *Handler) SelectItems(c echo.Context) error {
	uid, err := actor(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	var req selectItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := h.svc.SelectItems(c.Request().Context(), id, req.LabTestIDs, req.DrugIDs, uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]Status{"status": status})
}

func (h *Handler) ToggleCompletion(c echo.Context) error {
	uid, err := actor(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	d, err := ParseDepartment(c.Param("department"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.ToggleCompletion(c.Request().Context(), id, d, uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

type forceCloseRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) ForceClose(c echo.Context) error {
	uid, err := actor(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	var req forceCloseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.ForceClose(c.Request().Context(), id, uid, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}
