package roster

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dues/internal/ledger/models"
	dErrors "dues/pkg/domain-errors"
	"dues/pkg/platform/httputil"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/sections", h.createSection)
	r.Get("/sections", h.listSections)
	r.Get("/sections/{sectionID}/students", h.listStudents)
	r.Post("/sections/{sectionID}/students", h.addStudent)
	r.Get("/students/{studentID}", h.getStudent)
	r.Put("/students/{studentID}/active", h.setStudentActive)
	r.Put("/students/{studentID}/expected-amount", h.setExpectedAmount)
}

type studentLine struct {
	DisplayNumber  int             `json:"display_number"`
	FullName       string          `json:"full_name"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
}

func (l studentLine) toNewStudent() NewStudent {
	return NewStudent{
		DisplayNumber:  l.DisplayNumber,
		FullName:       l.FullName,
		ExpectedAmount: l.ExpectedAmount,
	}
}

type createSectionRequest struct {
	Name     string        `json:"name"`
	Students []studentLine `json:"students,omitempty"`
}

type createSectionResponse struct {
	Section  models.Section   `json:"section"`
	Students []models.Student `json:"students"`
}

func (h *Handler) createSection(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[createSectionRequest](w, r, h.logger)
	if !ok {
		return
	}

	lines := make([]NewStudent, 0, len(req.Students))
	for _, line := range req.Students {
		lines = append(lines, line.toNewStudent())
	}

	section, students, err := h.service.CreateSection(r.Context(), CreateSectionRequest{
		Name:     req.Name,
		Students: lines,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	httputil.WriteJSON(w, http.StatusCreated, createSectionResponse{Section: *section, Students: students})
}

func (h *Handler) listSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.service.ListSections(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if sections == nil {
		sections = []models.Section{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.ListStudents(r.Context(), chi.URLParam(r, "sectionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"students": students})
}

func (h *Handler) addStudent(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[studentLine](w, r, h.logger)
	if !ok {
		return
	}
	student, err := h.service.AddStudent(r.Context(), chi.URLParam(r, "sectionID"), req.toNewStudent())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, student)
}

func (h *Handler) getStudent(w http.ResponseWriter, r *http.Request) {
	student, err := h.service.GetStudent(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, student)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) setStudentActive(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[setActiveRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Active == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "active is required"))
		return
	}
	student, err := h.service.SetStudentActive(r.Context(), chi.URLParam(r, "studentID"), *req.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, student)
}

type setExpectedRequest struct {
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
}

func (h *Handler) setExpectedAmount(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[setExpectedRequest](w, r, h.logger)
	if !ok {
		return
	}
	student, err := h.service.SetExpectedAmount(r.Context(), chi.URLParam(r, "studentID"), req.ExpectedAmount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, student)
}
