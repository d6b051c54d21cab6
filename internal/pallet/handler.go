package pallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pallets/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pallets/internal/shared"
)

// ActorHeader carries the operator identity set by the upstream gateway.
const ActorHeader = "X-Actor"

// Capability names an action guarded by the capability checker.
type Capability string

const (
	CapabilityCreate Capability = "pallet.create"
	CapabilityEdit   Capability = "pallet.edit"
	CapabilityClose  Capability = "pallet.close"
	CapabilityMove   Capability = "pallet.move"
	CapabilityPrint  Capability = "pallet.print"
)

// CapabilityChecker decides whether actor may perform an action.
type CapabilityChecker interface {
	Can(ctx context.Context, actor string, c Capability) bool
}

// CapabilityFunc adapts a function to CapabilityChecker.
type CapabilityFunc func(ctx context.Context, actor string, c Capability) bool

// Can implements CapabilityChecker.
func (f CapabilityFunc) Can(ctx context.Context, actor string, c Capability) bool {
	return f(ctx, actor, c)
}

// AllowAll grants every capability to any identified actor.
var AllowAll CapabilityChecker = CapabilityFunc(func(context.Context, string, Capability) bool { return true })

// Handler exposes the engine over JSON HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	caps      CapabilityChecker
	validator *validator.Validate
}

// NewHandler builds Handler. A nil checker allows everything.
func NewHandler(logger *slog.Logger, service *Service, caps CapabilityChecker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if caps == nil {
		caps = AllowAll
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, caps: caps, validator: v}
}

// MountRoutes registers pallet and item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/pallets", func(r chi.Router) {
		r.Get("/", h.listPallets)
		r.With(h.require(CapabilityCreate)).Post("/", h.createPallet)
		r.Get("/by-number/{number}", h.showPalletByNumber)
		r.Get("/{id}", h.showPallet)
		r.With(h.require(CapabilityClose)).Post("/{id}/close", h.closePallet)
		r.With(h.require(CapabilityEdit)).Post("/{id}/items", h.addItem)
		r.With(h.require(CapabilityPrint)).Post("/{id}/print", h.printPalletList)
	})
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.findItems)
		r.Get("/{id}", h.showItem)
		r.With(h.require(CapabilityEdit)).Put("/{id}", h.updateItem)
		r.With(h.require(CapabilityEdit)).Delete("/{id}", h.removeItem)
		r.With(h.require(CapabilityMove)).Post("/{id}/move", h.moveItem)
		r.With(h.require(CapabilityPrint)).Post("/{id}/print", h.printItemLabel)
	})
}

type actorKey struct{}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// require rejects requests without an actor or without capability c.
func (h *Handler) require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get(ActorHeader))
			if actor == "" {
				httpx.RespondError(w, fmt.Errorf("%w: missing %s header", httpx.ErrUnauthorized, ActorHeader))
				return
			}
			if !h.caps.Can(r.Context(), actor, c) {
				httpx.RespondError(w, fmt.Errorf("%w: %s may not %s", httpx.ErrForbidden, actor, c))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

type createPalletRequest struct {
	ManufacturingOrder string `json:"manufacturing_order" validate:"required,max=64"`
	Division           string `json:"division" validate:"required"`
	Platform           string `json:"platform" validate:"omitempty,max=16"`
	UnitOfMeasure      string `json:"unit_of_measure" validate:"required,max=16"`
}

type addItemRequest struct {
	ItemNumber         string          `json:"item_number" validate:"required,max=64"`
	OrderNumber        string          `json:"order_number" validate:"max=64"`
	ClientCode         string          `json:"client_code" validate:"max=32"`
	ClientName         string          `json:"client_name" validate:"max=128"`
	ProductCode        string          `json:"product_code" validate:"max=64"`
	ProductDescription string          `json:"product_description" validate:"max=256"`
	Quantity           decimal.Decimal `json:"quantity"`
	Weight             decimal.Decimal `json:"weight"`
	Width              decimal.Decimal `json:"width"`
	Quality            string          `json:"quality" validate:"max=32"`
	Batch              string          `json:"batch" validate:"max=64"`
}

type updateItemRequest struct {
	Weight  decimal.Decimal `json:"weight"`
	Width   decimal.Decimal `json:"width"`
	Quality string          `json:"quality" validate:"max=32"`
	Batch   string          `json:"batch" validate:"required,max=64"`
}

type moveItemRequest struct {
	TargetPalletID int64 `json:"target_pallet_id" validate:"required,gt=0"`
}

type listResponse struct {
	Data       []PalletView      `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

type itemsResponse struct {
	Data []ItemView `json:"data"`
}

func (h *Handler) listPallets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{ManufacturingOrder: strings.TrimSpace(q.Get("manufacturing_order"))}
	if raw := q.Get("division"); raw != "" {
		d, err := ParseDivision(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Division = d
	}
	if raw := q.Get("closed"); raw != "" {
		closed, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, fieldError("closed", "must be true or false"))
			return
		}
		filter.Closed = &closed
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	result, err := h.service.ListPallets(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := listResponse{Data: make([]PalletView, 0, len(result.Pallets)), Pagination: result.Pagination}
	for _, p := range result.Pallets {
		resp.Data = append(resp.Data, ToView(p))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) createPallet(w http.ResponseWriter, r *http.Request) {
	var req createPalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	division, err := ParseDivision(req.Division)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.CreatePallet(r.Context(), CreatePalletInput{
		ManufacturingOrder: req.ManufacturingOrder,
		Division:           division,
		Platform:           req.Platform,
		UnitOfMeasure:      req.UnitOfMeasure,
		CreatedBy:          actorFrom(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/pallets/"+strconv.FormatInt(p.ID, 10))
	httpx.JSON(w, http.StatusCreated, ToView(p))
}

func (h *Handler) showPallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPallet(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToView(p))
}

func (h *Handler) showPalletByNumber(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPalletByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToView(p))
}

func (h *Handler) closePallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.ClosePallet(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToView(p))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.AddItem(r.Context(), id, ItemInput{
		ItemNumber:         req.ItemNumber,
		OrderNumber:        req.OrderNumber,
		ClientCode:         req.ClientCode,
		ClientName:         req.ClientName,
		ProductCode:        req.ProductCode,
		ProductDescription: req.ProductDescription,
		Quantity:           req.Quantity,
		Weight:             req.Weight,
		Width:              req.Width,
		Quality:            req.Quality,
		Batch:              req.Batch,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToItemView(item))
}

func (h *Handler) printPalletList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.PrintPalletList(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) findItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ItemFilter{
		ItemNumber:  strings.TrimSpace(q.Get("item_number")),
		OrderNumber: strings.TrimSpace(q.Get("order_number")),
		ClientCode:  strings.TrimSpace(q.Get("client_code")),
	}
	if raw := q.Get("pallet_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.fail(w, r, fieldError("pallet_id", "must be a positive integer"))
			return
		}
		filter.PalletID = id
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	items, err := h.service.FindItems(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := itemsResponse{Data: make([]ItemView, 0, len(items))}
	for _, it := range items {
		resp.Data = append(resp.Data, ToItemView(it))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToItemView(item))
}

// updateItem replaces every editable field; omitted values are cleared.
func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, ItemUpdate{
		Weight:  req.Weight,
		Width:   req.Width,
		Quality: req.Quality,
		Batch:   req.Batch,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToItemView(item))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveItem(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) moveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req moveItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.MoveItem(r.Context(), id, req.TargetPalletID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToItemView(item))
}

func (h *Handler) printItemLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.PrintItemLabel(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, fieldError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.fail(w, r, fieldError("body", "malformed JSON"))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.fail(w, r, fieldError(verrs[0].Field(), "failed "+verrs[0].Tag()))
			return false
		}
		h.fail(w, r, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := httpError(err)
	if errors.Is(mapped, errUnmapped) {
		h.logger.Error("pallet request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

var errUnmapped = errors.New("unmapped")

// httpError tags err with the httpx sentinel matching its status.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, ErrPalletClosed), errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrDuplicateItemNumber), errors.Is(err, ErrSamePallet):
		return fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	case errors.Is(err, ErrMissingPermanentNumber), errors.Is(err, ErrSequenceExhausted):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, retry.ErrExhausted), db.IsTransient(err):
		return fmt.Errorf("%w: %w", httpx.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", errUnmapped, err)
	}
}
